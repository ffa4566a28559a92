package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/registry"
)

// Config holds orchestrator tunables.
type Config struct {
	// OperationTimeout force-fails a round whose worker neither finishes
	// nor honors cancellation. 0 disables the watchdog.
	OperationTimeout time.Duration
}

// Deps are the external collaborators. Broadcast is required; the monitors
// are optional.
type Deps struct {
	Checker         Checker
	Cache           CheckCache
	Downloader      Downloader
	Flasher         Flasher
	DownloadMonitor ProgressMonitor
	FlashMonitor    ProgressMonitor
	Broadcast       Broadcaster
}

// workerDone is a terminal worker report. A nil payload with a nil error
// means the worker produced nothing, which is treated as failure.
type workerDone struct {
	op    opType
	round string
	check *CheckResult
	dl    *DownloadOutcome
	err   error
}

// workerProgress is a progress-only report. It never alters round state.
type workerProgress struct {
	op      opType
	round   string
	percent int
}

// Service owns all orchestration state. Method handlers may be called from
// any goroutine; they funnel through the dispatch loop started by Run.
type Service struct {
	cfg  Config
	deps Deps

	cmds       chan func()
	doneCh     chan workerDone
	progressCh chan workerProgress
	stopped    chan struct{}

	// spawn starts a worker goroutine. Swapped out by tests to exercise
	// the spawn-failure path.
	spawn func(fn func()) error

	// State below is touched only from the dispatch goroutine.
	reg      *registry.Registry
	tasks    *taskTable
	coords   map[opType]*coordinator
	timers   map[opType]*time.Timer
	monitors map[opType]context.CancelFunc
}

// New creates a Service. Call Run before using it.
func New(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg,
		deps:       deps,
		cmds:       make(chan func()),
		doneCh:     make(chan workerDone, 8),
		progressCh: make(chan workerProgress, 16),
		stopped:    make(chan struct{}),
		spawn: func(fn func()) error {
			go fn()
			return nil
		},
		reg:   registry.New(),
		tasks: newTaskTable(),
		coords: map[opType]*coordinator{
			opCheck:    {op: opCheck},
			opDownload: {op: opDownload},
			opFlash:    {op: opFlash},
		},
		timers:   make(map[opType]*time.Timer),
		monitors: make(map[opType]context.CancelFunc),
	}
}

// Run drains commands and worker reports until ctx is cancelled. It is the
// only goroutine permitted to mutate orchestration state.
func (s *Service) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case d := <-s.doneCh:
			s.handleDone(d)
		case p := <-s.progressCh:
			s.handleProgress(p)
		}
	}
}

// do runs fn on the dispatch goroutine and waits for it to finish.
func (s *Service) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Service) postDone(d workerDone) {
	select {
	case s.doneCh <- d:
	case <-s.stopped:
	}
}

func (s *Service) postProgress(p workerProgress) {
	select {
	case s.progressCh <- p:
	case <-s.stopped:
	}
}

// Register adds a process registration on behalf of a bus sender.
func (s *Service) Register(processName, libVersion, sender string) (uint64, error) {
	var (
		handle uint64
		rerr   error
	)
	err := s.do(func() {
		handle, rerr = s.reg.Register(processName, libVersion, sender)
		if rerr == nil {
			slog.Info("process registered",
				"process", processName,
				"lib_version", libVersion,
				"sender", sender,
				"handle", handle,
				"registered", s.reg.Len())
		}
	})
	if err != nil {
		return 0, err
	}
	return handle, rerr
}

// Unregister removes a registration and reports whether it existed.
func (s *Service) Unregister(handle uint64) (bool, error) {
	var found bool
	err := s.do(func() {
		found = s.reg.Unregister(handle)
		slog.Info("process unregistered", "handle", handle, "found", found, "registered", s.reg.Len())
	})
	return found, err
}

// DropSender discards any registration held by a disconnected bus sender.
func (s *Service) DropSender(sender string) {
	s.do(func() { //nolint:errcheck
		if s.reg.DropSender(sender) {
			slog.Info("dropped registration for disconnected sender", "sender", sender)
		}
	})
}

// CheckForUpdate admits an update-check request for a registered handle.
//
// A usable cached result answers synchronously without touching the
// coordinator. Otherwise the reply is the sentinel error result and the real
// answer arrives via the CheckForUpdateComplete broadcast once the
// single-flight round finishes.
func (s *Service) CheckForUpdate(handle uint64, sender string) (CheckResult, error) {
	var (
		reply CheckResult
		rerr  error
	)
	err := s.do(func() {
		rec := s.reg.Lookup(handle)
		if rec == nil {
			rerr = ErrNotRegistered
			return
		}

		// Cache-first fast path: no task, no coordinator state.
		if s.deps.Cache != nil && s.deps.Cache.Probe() {
			if res, ok := s.deps.Cache.Load(); ok {
				slog.Info("check-for-update served from cache", "handle", handle, "result_code", res.Code)
				reply = res
				s.deps.Broadcast.CheckForUpdateComplete(handle, res)
				return
			}
		}

		c := s.coords[opCheck]
		task := &taskContext{
			op:          opCheck,
			handle:      handle,
			processName: rec.ProcessName,
			sender:      sender,
			payload:     &checkData{},
		}
		// The immediate reply is always the sentinel; the broadcast
		// carries the real result.
		task.reply = func() { reply = ErrorCheckResult() }

		id := s.tasks.add(task)
		c.admit(id)

		if c.inProgress {
			slog.Info("check-for-update piggybacked on in-flight round",
				"task", id, "round", c.round, "waiting", len(c.waiting))
		} else {
			round := uuid.NewString()
			c.claim("", round, handle)
			slog.Info("check-for-update round started", "task", id, "round", round)
			s.dispatchCheck(round)
		}
		task.consumeReply()
	})
	if err != nil {
		return CheckResult{}, err
	}
	return reply, rerr
}

// Download admits a firmware download request. The reply acknowledges the
// admission outcome; progress and completion arrive as broadcast signals.
func (s *Service) Download(handle uint64, sender string, req DownloadRequest) (AckReply, error) {
	var (
		reply AckReply
		rerr  error
	)
	err := s.do(func() {
		rec := s.reg.Lookup(handle)
		if rec == nil {
			rerr = ErrNotRegistered
			return
		}

		c := s.coords[opDownload]
		if c.inProgress && !c.sameTarget(req.FirmwareName) {
			slog.Warn("download rejected, busy with different firmware",
				"requested", req.FirmwareName, "current", c.target)
			reply = AckReply{
				Result:  busapi.DownloadResultFailed,
				Status:  busapi.StatusDownloadError,
				Message: fmt.Sprintf("Download busy with %s", c.target),
			}
			return
		}

		if !c.inProgress {
			if path, ok := s.deps.Downloader.LocalPath(req.FirmwareName); ok {
				slog.Info("download already satisfied locally", "firmware", req.FirmwareName, "path", path)
				reply = AckReply{
					Result:  busapi.DownloadResultSuccess,
					Status:  busapi.StatusCompleted,
					Message: "Download already completed",
				}
				s.deps.Broadcast.DownloadProgress(handle, req.FirmwareName, 100, busapi.StatusCompleted, path)
				return
			}
		}

		task := &taskContext{
			op:          opDownload,
			handle:      handle,
			processName: rec.ProcessName,
			sender:      sender,
			payload:     &downloadData{req: req, status: busapi.StatusInProgress},
		}

		if c.inProgress {
			task.reply = func() {
				reply = AckReply{
					Result:  busapi.DownloadResultSuccess,
					Status:  busapi.StatusInProgress,
					Message: "Download already in progress",
				}
			}
			id := s.tasks.add(task)
			c.admit(id)
			slog.Info("download piggybacked on in-flight round",
				"task", id, "round", c.round, "firmware", req.FirmwareName, "waiting", len(c.waiting))
		} else {
			task.reply = func() {
				reply = AckReply{
					Result:  busapi.DownloadResultSuccess,
					Status:  busapi.StatusInProgress,
					Message: "Download started successfully",
				}
			}
			id := s.tasks.add(task)
			c.admit(id)
			round := uuid.NewString()
			c.claim(req.FirmwareName, round, handle)
			slog.Info("download round started",
				"task", id, "round", round, "firmware", req.FirmwareName, "url", req.DownloadURL, "type", req.FirmwareType)
			s.dispatchDownload(round, req)
		}
		task.consumeReply()
	})
	if err != nil {
		return AckReply{}, err
	}
	return reply, rerr
}

// Flash admits a firmware flash request, symmetric to Download.
func (s *Service) Flash(handle uint64, sender string, req FlashRequest) (AckReply, error) {
	var (
		reply AckReply
		rerr  error
	)
	err := s.do(func() {
		rec := s.reg.Lookup(handle)
		if rec == nil {
			rerr = ErrNotRegistered
			return
		}

		c := s.coords[opFlash]
		if c.inProgress && !c.sameTarget(req.FirmwareName) {
			slog.Warn("flash rejected, busy with different firmware",
				"requested", req.FirmwareName, "current", c.target)
			reply = AckReply{
				Result:  busapi.UpdateResultFailed,
				Status:  busapi.StatusValidationError,
				Message: fmt.Sprintf("Flash busy with %s", c.target),
			}
			return
		}

		task := &taskContext{
			op:          opFlash,
			handle:      handle,
			processName: rec.ProcessName,
			sender:      sender,
			payload:     &flashData{req: req},
		}

		if c.inProgress {
			task.reply = func() {
				reply = AckReply{
					Result:  busapi.UpdateResultSuccess,
					Status:  busapi.StatusInProgress,
					Message: "Flash already in progress",
				}
			}
			id := s.tasks.add(task)
			c.admit(id)
			slog.Info("flash piggybacked on in-flight round",
				"task", id, "round", c.round, "firmware", req.FirmwareName, "waiting", len(c.waiting))
		} else {
			task.reply = func() {
				reply = AckReply{
					Result:  busapi.UpdateResultSuccess,
					Status:  busapi.StatusInProgress,
					Message: "Flash started successfully",
				}
			}
			id := s.tasks.add(task)
			c.admit(id)
			round := uuid.NewString()
			c.claim(req.FirmwareName, round, handle)
			slog.Info("flash round started",
				"task", id, "round", round, "firmware", req.FirmwareName, "reboot", req.RebootImmediate)
			s.dispatchFlash(round, req)
		}
		task.consumeReply()
	})
	if err != nil {
		return AckReply{}, err
	}
	return reply, rerr
}

// TaskCount reports the number of unanswered requests. Diagnostic only.
func (s *Service) TaskCount() (int, error) {
	var n int
	err := s.do(func() { n = s.tasks.len() })
	return n, err
}
