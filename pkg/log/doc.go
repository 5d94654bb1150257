/*
Package log provides structured logging for Helios using zerolog.

A single global Logger is configured once via Init and used by every
Helios component (manager, worker, fanout, queue). Component and task
context is attached with child loggers rather than passed around
explicitly.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Info("helios starting")

	workerLog := log.WithComponent("worker")
	workerLog.Info().Str("worker_id", "worker-1").Msg("leasing jobs")

	taskLog := log.WithTaskID(taskID)
	taskLog.Error().Err(err).Msg("container run failed")

# Integration Points

  - pkg/manager and pkg/worker tag entries with WithTaskID
  - pkg/worker tags entries with WithWorkerID
  - cmd/helios tags its manager and worker subcommands with WithComponent
    and calls Init once at process start, before anything else logs
*/
package log
