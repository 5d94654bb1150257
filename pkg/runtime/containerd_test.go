package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heliosrun/helios/pkg/types"
)

func TestBuildCommandInstallsManifestBeforeEntrypoint(t *testing.T) {
	cmd := buildCommand("main.py")
	assert.True(t, strings.Contains(cmd, "requirements.txt"))
	assert.True(t, strings.Index(cmd, "pip install") < strings.Index(cmd, "exec python3"))
	assert.True(t, strings.Contains(cmd, "-u 'main.py'"))
}

func TestBuildCommandQuotesEntrypointSafely(t *testing.T) {
	cmd := buildCommand("it's.py")
	assert.True(t, strings.Contains(cmd, `'it'\''s.py'`))
}

func TestResourceOptsDisjoint(t *testing.T) {
	opts := resourceOpts(types.Resources{CPUCores: 2})
	assert.Len(t, opts, 1)

	opts = resourceOpts(types.Resources{MemoryBytes: 512 * 1024 * 1024})
	assert.Len(t, opts, 1)

	opts = resourceOpts(types.Resources{})
	assert.Len(t, opts, 0)

	opts = resourceOpts(types.Resources{CPUCores: 1, MemoryBytes: 1024})
	assert.Len(t, opts, 2)
}
