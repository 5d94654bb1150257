package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/types"
)

const (
	// Namespace is the containerd namespace Helios containers run under.
	Namespace = "helios"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	containerWorkDir = "/workspace"
	cpuPeriod        = uint64(100000) // 100ms, matches oci.WithCPUCFS convention
)

// ContainerdRuntime implements Runtime via a local containerd daemon.
type ContainerdRuntime struct {
	client *containerd.Client
}

// NewContainerdRuntime dials the containerd socket at socketPath.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}
	return &ContainerdRuntime{client: client}, nil
}

func (r *ContainerdRuntime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *ContainerdRuntime) Run(ctx context.Context, spec Spec) (*Execution, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	logger := log.WithTaskID(spec.TaskID)

	timer := metrics.NewTimer()
	image, err := r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pull image %s: %w", spec.Image, err)
	}

	containerID := containerName(spec.TaskID)
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs("/bin/sh", "-c", buildCommand(spec.Entrypoint)),
		oci.WithProcessCwd(containerWorkDir),
		oci.WithMounts([]specs.Mount{
			{
				Source:      spec.WorkDir,
				Destination: containerWorkDir,
				Type:        "bind",
				Options:     []string{"rbind"},
			},
		}),
	}
	opts = append(opts, resourceOpts(spec.Resources)...)

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	pr, pw := io.Pipe()
	task, err := ctrdContainer.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, pw, pw)))
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("create task: %w", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		_ = pw.Close()
		_, _ = task.Delete(ctx)
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_ = pw.Close()
		_, _ = task.Delete(ctx)
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("start task: %w", err)
	}

	lines := make(chan string, 256)
	done := make(chan Result, 1)

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	go func() {
		exitStatus := <-statusC
		_ = pw.Close()
		metrics.ContainerRunDuration.Observe(timer.Duration().Seconds())

		if _, derr := task.Delete(ctx); derr != nil {
			logger.Error().Err(derr).Msg("delete task after exit")
		}
		if derr := ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup); derr != nil {
			logger.Error().Err(derr).Msg("delete container after exit")
		}

		done <- Result{ExitCode: int(exitStatus.ExitCode()), Err: exitStatus.Error()}
		close(done)
	}()

	return &Execution{Lines: lines, Done: done}, nil
}

// Kill forcibly stops the container running spec.TaskID, for use when a
// job's deadline expires. The Run goroutine's own cleanup (its statusC wait
// in the background goroutine) deletes the task and container once this
// causes them to exit. It is a no-op if the container has already exited or
// was never created.
func (r *ContainerdRuntime) Kill(ctx context.Context, spec Spec) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	ctrdContainer, err := r.client.LoadContainer(ctx, containerName(spec.TaskID))
	if err != nil {
		// Container might not exist (already cleaned up).
		return nil
	}

	task, err := ctrdContainer.Task(ctx, nil)
	if err != nil {
		// Task might not exist (container not running).
		return nil
	}

	if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill task: %w", err)
	}
	return nil
}

func containerName(taskID string) string {
	return "helios-" + taskID
}

// buildCommand composes the shell command run inside the container:
// install the project's dependency manifest if present, then execute the
// entrypoint with unbuffered standard streams.
func buildCommand(entrypoint string) string {
	return "if [ -f requirements.txt ]; then pip install --no-cache-dir -q -r requirements.txt; fi && exec python3 -u " + shellQuote(entrypoint)
}

// shellQuote wraps s in single quotes, escaping any embedded single quote,
// so an entrypoint path can never break out of the command string.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// resourceOpts maps disjoint CPU/memory caps onto OCI spec options. CPU
// cores are applied as a CFS quota (period=100ms); memory bytes as a
// straightforward cgroup limit. The two are never conflated.
func resourceOpts(res types.Resources) []oci.SpecOpts {
	var opts []oci.SpecOpts
	if res.CPUCores > 0 {
		quota := int64(res.CPUCores) * int64(cpuPeriod)
		opts = append(opts, oci.WithCPUCFS(quota, cpuPeriod))
	}
	if res.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(res.MemoryBytes)))
	}
	return opts
}
