// Package config loads Helios's environment-driven settings into a typed
// struct, mirroring the original Python implementation's Settings class
// but validated and defaulted at process start instead of lazily.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings holds every environment-configurable knob shared by the manager
// and worker binaries. All fields have safe defaults so both run
// unconfigured against a local Redis.
type Settings struct {
	RedisAddr     string `env:"HELIOS_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB       int    `env:"HELIOS_REDIS_DB" envDefault:"0"`
	RedisPassword string `env:"HELIOS_REDIS_PASSWORD" envDefault:""`

	StoragePath string `env:"HELIOS_STORAGE_PATH" envDefault:"/var/helios/tasks"`

	APIHost string `env:"HELIOS_API_HOST" envDefault:"0.0.0.0"`
	APIPort int    `env:"HELIOS_API_PORT" envDefault:"8000"`

	// JobTimeoutSeconds is the wall-clock deadline for one task's container
	// run; on expiry the worker kills the container and reports TIMEOUT.
	JobTimeoutSeconds int `env:"HELIOS_JOB_TIMEOUT_SECONDS" envDefault:"3600"`

	// RuntimeImage is the fixed container image policy used for every task
	// (spec.md §4.3: "A runtime image chosen by policy").
	RuntimeImage string `env:"HELIOS_RUNTIME_IMAGE" envDefault:"docker.io/library/python:3.11-slim"`

	ContainerdSocket string `env:"HELIOS_CONTAINERD_SOCKET" envDefault:"/run/containerd/containerd.sock"`

	LogLevel string `env:"HELIOS_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"HELIOS_LOG_JSON" envDefault:"false"`

	// NodeLabel, when set, tags every log entry from this process with a
	// node_label field, so logs from multiple hosts can be told apart.
	NodeLabel string `env:"HELIOS_NODE_LABEL" envDefault:""`

	// StatusGraceSeconds, when > 0, expires terminal status records after
	// this many seconds (spec.md §4.5: "MAY expire terminal records after a
	// configurable grace"). 0 disables expiry.
	StatusGraceSeconds int `env:"HELIOS_STATUS_GRACE_SECONDS" envDefault:"0"`
}

// Load reads Settings from the environment, applying defaults for anything
// unset.
func Load() (*Settings, error) {
	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
