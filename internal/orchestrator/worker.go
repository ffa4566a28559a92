package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
)

// Worker dispatch and completion handling. Every function here runs on the
// dispatch goroutine; the spawned closures are the only code that runs
// elsewhere, and they communicate back exclusively through postDone /
// postProgress.

// opCtx returns the context a worker blocks under. The timeout mirrors the
// watchdog so a well-behaved collaborator aborts on its own.
func (s *Service) opCtx() (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	}
	return context.WithCancel(context.Background())
}

// armWatchdog force-fails the round if no terminal report arrives in time.
// The round guard in handleDone discards the real report should the worker
// finish late.
func (s *Service) armWatchdog(op opType, round string) {
	if s.cfg.OperationTimeout <= 0 {
		return
	}
	s.timers[op] = time.AfterFunc(s.cfg.OperationTimeout, func() {
		slog.Warn("operation watchdog fired", "op", op.String(), "round", round)
		s.postDone(workerDone{op: op, round: round, err: errOperationTimeout})
	})
}

// startMonitor runs a progress monitor for the round, if one is configured.
func (s *Service) startMonitor(op opType, round string, mon ProgressMonitor) {
	if mon == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.monitors[op] = cancel
	go mon.Run(ctx, func(percent int) {
		s.postProgress(workerProgress{op: op, round: round, percent: percent})
	})
}

// dispatchCheck hands the update-check round to a worker goroutine. A spawn
// failure is fed through the normal completion path so cleanup still runs.
func (s *Service) dispatchCheck(round string) {
	s.armWatchdog(opCheck, round)
	err := s.spawn(func() {
		ctx, cancel := s.opCtx()
		defer cancel()
		res, err := s.deps.Checker.Check(ctx)
		if err != nil {
			s.postDone(workerDone{op: opCheck, round: round, err: err})
			return
		}
		s.postDone(workerDone{op: opCheck, round: round, check: &res})
	})
	if err != nil {
		slog.Error("failed to spawn check worker", "round", round, "error", err)
		s.handleDone(workerDone{op: opCheck, round: round, err: errWorkerSpawn})
	}
}

func (s *Service) dispatchDownload(round string, req DownloadRequest) {
	s.armWatchdog(opDownload, round)
	s.startMonitor(opDownload, round, s.deps.DownloadMonitor)
	err := s.spawn(func() {
		ctx, cancel := s.opCtx()
		defer cancel()
		out, err := s.deps.Downloader.Download(ctx, req)
		if err != nil {
			s.postDone(workerDone{op: opDownload, round: round, err: err})
			return
		}
		s.postDone(workerDone{op: opDownload, round: round, dl: &out})
	})
	if err != nil {
		slog.Error("failed to spawn download worker", "round", round, "error", err)
		s.handleDone(workerDone{op: opDownload, round: round, err: errWorkerSpawn})
	}
}

func (s *Service) dispatchFlash(round string, req FlashRequest) {
	s.armWatchdog(opFlash, round)
	s.startMonitor(opFlash, round, s.deps.FlashMonitor)
	err := s.spawn(func() {
		ctx, cancel := s.opCtx()
		defer cancel()
		ferr := s.deps.Flasher.Flash(ctx, req)
		s.postDone(workerDone{op: opFlash, round: round, err: ferr})
	})
	if err != nil {
		slog.Error("failed to spawn flash worker", "round", round, "error", err)
		s.handleDone(workerDone{op: opFlash, round: round, err: errWorkerSpawn})
	}
}

// handleProgress applies a progress-only report: update the snapshot and
// broadcast, leaving in-progress state and the waiting list untouched.
func (s *Service) handleProgress(p workerProgress) {
	c := s.coords[p.op]
	if !c.currentRound(p.round) {
		return
	}
	c.percent = p.percent
	switch p.op {
	case opDownload:
		s.deps.Broadcast.DownloadProgress(c.leaderHandle, c.target, p.percent,
			busapi.StatusInProgress, "Download in progress")
	case opFlash:
		s.deps.Broadcast.UpdateProgress(c.leaderHandle, c.target, p.percent,
			busapi.FlashStatusInProgress, "Flash in progress")
	}
}

// handleDone runs the full completion pass for a terminal worker report:
// one broadcast, then per-waiter cleanup, then coordinator reset. Failure
// reports (including a missing payload) take the same path with an error
// broadcast, so a failed leader never leaves the coordinator stuck.
func (s *Service) handleDone(d workerDone) {
	c := s.coords[d.op]
	if !c.currentRound(d.round) {
		slog.Debug("ignoring report from stale round", "op", d.op.String(), "round", d.round)
		return
	}

	if t := s.timers[d.op]; t != nil {
		t.Stop()
		delete(s.timers, d.op)
	}
	if cancel := s.monitors[d.op]; cancel != nil {
		cancel()
		delete(s.monitors, d.op)
	}

	switch d.op {
	case opCheck:
		s.completeCheck(c, d)
	case opDownload:
		s.completeDownload(c, d)
	case opFlash:
		s.completeFlash(c, d)
	}

	s.cleanupWaiters(c)
	c.reset()
	slog.Info("round complete", "op", d.op.String(), "round", d.round, "tasks_remaining", s.tasks.len())
}

func (s *Service) completeCheck(c *coordinator, d workerDone) {
	res := ErrorCheckResult()
	if d.err == nil && d.check != nil {
		res = *d.check
	} else if d.err != nil {
		slog.Error("check-for-update round failed", "round", d.round, "error", d.err)
	} else {
		slog.Error("check-for-update worker returned no result", "round", d.round)
	}

	for _, id := range c.waiting {
		if task := s.tasks.lookup(id); task != nil {
			if data, ok := task.payload.(*checkData); ok {
				data.result = res
			}
		}
	}
	s.deps.Broadcast.CheckForUpdateComplete(c.leaderHandle, res)
}

func (s *Service) completeDownload(c *coordinator, d workerDone) {
	if d.err == nil && d.dl != nil {
		for _, id := range c.waiting {
			if task := s.tasks.lookup(id); task != nil {
				if data, ok := task.payload.(*downloadData); ok {
					data.percent = 100
					data.status = busapi.StatusCompleted
					data.localPath = d.dl.LocalPath
				}
			}
		}
		s.deps.Broadcast.DownloadProgress(c.leaderHandle, c.target, 100,
			busapi.StatusCompleted, d.dl.LocalPath)
		return
	}

	msg := "Download worker returned no result"
	if d.err != nil {
		msg = d.err.Error()
	}
	slog.Error("download round failed", "round", d.round, "firmware", c.target, "error", msg)
	for _, id := range c.waiting {
		if task := s.tasks.lookup(id); task != nil {
			if data, ok := task.payload.(*downloadData); ok {
				data.status = busapi.StatusDownloadError
				data.errMsg = msg
			}
		}
	}
	s.deps.Broadcast.DownloadError(c.leaderHandle, c.target, busapi.StatusDownloadError, msg)
}

func (s *Service) completeFlash(c *coordinator, d workerDone) {
	if d.err == nil {
		s.deps.Broadcast.UpdateProgress(c.leaderHandle, c.target, 100,
			busapi.FlashStatusCompleted, "Flash completed")
		return
	}
	slog.Error("flash round failed", "round", d.round, "firmware", c.target, "error", d.err)
	s.deps.Broadcast.UpdateProgress(c.leaderHandle, c.target, c.percent,
		busapi.FlashStatusError, d.err.Error())
}

// cleanupWaiters removes every task of the finished round from the task
// table, sending any still-owed immediate reply first. All three operation
// types answer at admission time, so the broadcast normally suffices.
func (s *Service) cleanupWaiters(c *coordinator) {
	for _, id := range c.waiting {
		task := s.tasks.lookup(id)
		if task == nil {
			slog.Warn("waiting task missing from task table", "task", id)
			continue
		}
		task.consumeReply()
		s.tasks.remove(id)
	}
}
