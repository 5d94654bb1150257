// Package worker implements the per-job protocol: lease a job from the
// broker, run its container, forward output to the log channel, and report
// terminal status exactly once.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/queue"
	"github.com/heliosrun/helios/pkg/runtime"
	"github.com/heliosrun/helios/pkg/status"
	"github.com/heliosrun/helios/pkg/types"
)

// killTimeout bounds how long Kill may take to force-stop a timed-out
// container; ctx is already cancelled by the time it runs, so Kill uses a
// fresh context instead.
const killTimeout = 10 * time.Second

// Config holds everything a Worker needs to run jobs.
type Config struct {
	WorkerID     string
	RuntimeImage string
	JobTimeout   time.Duration
}

// Worker leases jobs from a Broker, executes them via a Runtime, publishes
// their output on Redis pub/sub, and records terminal status.
type Worker struct {
	cfg     Config
	broker  queue.Broker
	status  status.Store
	runtime runtime.Runtime
	rdb     *redis.Client

	stopCh chan struct{}
}

// New constructs a Worker. rdb is used directly for publishing log lines
// (the fan-out side subscribes to the same channels).
func New(cfg Config, broker queue.Broker, store status.Store, rt runtime.Runtime, rdb *redis.Client) *Worker {
	return &Worker{
		cfg:     cfg,
		broker:  broker,
		status:  store,
		runtime: rt,
		rdb:     rdb,
		stopCh:  make(chan struct{}),
	}
}

// Run leases and executes jobs until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithWorkerID(w.cfg.WorkerID)
	logger.Info().Msg("worker starting lease loop")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		default:
		}

		lease, err := w.broker.Lease(ctx, w.cfg.WorkerID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).Msg("lease failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		w.handleLease(ctx, lease)
	}
}

// Stop signals Run to return after its current lease (if any) is released.
// Run checks for Stop only between leases; a Lease call already blocked
// waiting for work is not interrupted.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) handleLease(ctx context.Context, lease *queue.Lease) {
	job := lease.Job
	logger := log.WithTaskID(job.TaskID)

	// A redelivered job whose status is already terminal was completed by
	// a prior worker that crashed before acking the lease; finish the
	// release without running it again (idempotency on worker crash).
	if rec, err := w.status.Get(ctx, job.TaskID); err == nil && rec.Status.IsTerminal() {
		logger.Warn().Str("status", string(rec.Status)).Msg("redelivered job already terminal, skipping re-run")
		if err := w.broker.Complete(ctx, lease); err != nil {
			logger.Error().Err(err).Msg("failed to release redelivered lease")
		}
		return
	}

	metrics.TasksRunningTotal.Inc()
	defer metrics.TasksRunningTotal.Dec()

	if err := w.status.Set(ctx, job.TaskID, types.StatusRunning, ""); err != nil {
		logger.Error().Err(err).Msg("failed to record running status")
	}

	detail, execErr := w.execute(ctx, job)

	finalStatus := types.StatusSucceeded
	if execErr != nil || detail != "" {
		finalStatus = types.StatusFailed
	}
	if err := w.status.Set(ctx, job.TaskID, finalStatus, detail); err != nil {
		logger.Error().Err(err).Msg("failed to record terminal status")
	}

	metrics.TaskExecutionsTotal.WithLabelValues(string(finalStatus)).Inc()

	if err := os.RemoveAll(job.WorkDir); err != nil {
		logger.Error().Err(err).Msg("failed to remove task working directory")
	}

	if execErr != nil {
		if err := w.broker.Fail(ctx, lease); err != nil {
			logger.Error().Err(err).Msg("failed to release failed lease")
		}
		return
	}
	if err := w.broker.Complete(ctx, lease); err != nil {
		logger.Error().Err(err).Msg("failed to release completed lease")
	}
}

// execute runs job's container, forwarding every output line to its log
// channel, then publishes exactly one terminal marker. It returns a
// non-empty failure detail when the job did not succeed, and a non-nil
// error only when the worker itself could not run the job at all.
func (w *Worker) execute(ctx context.Context, job types.Descriptor) (detail string, err error) {
	logger := log.WithTaskID(job.TaskID)
	channel := types.LogChannel(job.TaskID)

	timeout := w.cfg.JobTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, runErr := w.runtime.Run(runCtx, runtime.Spec{
		TaskID:     job.TaskID,
		Image:      w.cfg.RuntimeImage,
		WorkDir:    job.WorkDir,
		Entrypoint: job.Entrypoint,
		Resources:  job.Resources,
	})
	if runErr != nil {
		logger.Error().Err(runErr).Msg("failed to start container")
		w.publish(ctx, channel, types.FailedMarker(types.DetailDockerError))
		return types.DetailDockerError, runErr
	}

	for {
		select {
		case line, ok := <-exec.Lines:
			if !ok {
				exec.Lines = nil
				continue
			}
			w.publish(ctx, channel, line)

		case result, ok := <-exec.Done:
			if !ok {
				return "", nil
			}
			// Publish any output still buffered so the terminal marker
			// stays the last message on the channel.
			if exec.Lines != nil {
				for line := range exec.Lines {
					w.publish(ctx, channel, line)
				}
			}
			return w.finish(ctx, channel, result)

		case <-runCtx.Done():
			killCtx, killCancel := context.WithTimeout(context.Background(), killTimeout)
			if killErr := w.runtime.Kill(killCtx, runtime.Spec{TaskID: job.TaskID}); killErr != nil {
				logger.Error().Err(killErr).Msg("failed to kill timed-out container")
			}
			killCancel()
			w.publish(ctx, channel, types.FailedMarker(types.DetailTimeout))
			return types.DetailTimeout, nil
		}
	}
}

func (w *Worker) finish(ctx context.Context, channel string, result runtime.Result) (string, error) {
	if result.Err != nil {
		w.publish(ctx, channel, types.FailedMarker(types.DetailRuntimeError))
		return types.DetailRuntimeError, nil
	}
	if result.ExitCode != 0 {
		marker := types.FailedMarkerExitCode(result.ExitCode)
		w.publish(ctx, channel, marker)
		return fmt.Sprintf("exit code %d", result.ExitCode), nil
	}
	w.publish(ctx, channel, types.MarkerComplete)
	return "", nil
}

func (w *Worker) publish(ctx context.Context, channel, line string) {
	if err := w.rdb.Publish(ctx, channel, line).Err(); err != nil {
		log.Errorf("publish log line", err)
	}
}
