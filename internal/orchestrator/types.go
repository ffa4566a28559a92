// Package orchestrator implements the async task-orchestration core of the
// firmware update manager: process registration, the single-flight/piggyback
// protocol that deduplicates concurrent identical requests, worker dispatch,
// and per-operation completion handling.
//
// All orchestration state (registry, task table, coordinators) is owned by a
// single dispatch goroutine started by Service.Run. Bus method handlers post
// commands to it and wait only for the synchronous admission answer; workers
// report back through completion channels drained by the same goroutine.
package orchestrator

import (
	"context"
	"errors"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
)

// opType discriminates the three operation coordinators.
type opType int

const (
	opCheck opType = iota
	opDownload
	opFlash
)

func (t opType) String() string {
	switch t {
	case opCheck:
		return "check-for-update"
	case opDownload:
		return "download"
	case opFlash:
		return "flash"
	}
	return "unknown"
}

// ErrStopped is returned by Service methods after the dispatch loop exits.
var ErrStopped = errors.New("orchestrator stopped")

// ErrNotRegistered rejects operations from handles with no live registration.
var ErrNotRegistered = errors.New("handle not registered")

// errOperationTimeout is the synthetic failure injected when a leader's
// worker exceeds the configured operation timeout.
var errOperationTimeout = errors.New("operation timed out")

// errWorkerSpawn is the synthetic failure injected when a worker could not
// be started at all.
var errWorkerSpawn = errors.New("failed to start worker")

// CheckResult is the outcome of one update-check round, as produced by the
// Checker collaborator and broadcast to all listeners.
type CheckResult struct {
	CurrentVersion   string
	AvailableVersion string
	UpdateDetails    string
	StatusText       string
	Code             int32
}

// ErrorCheckResult returns the sentinel result used both for the immediate
// cache-miss reply and for failed check rounds.
func ErrorCheckResult() CheckResult {
	return CheckResult{StatusText: "UPDATE_ERROR", Code: busapi.UpdateError}
}

// DownloadRequest carries the client-supplied download parameters.
type DownloadRequest struct {
	FirmwareName string
	DownloadURL  string
	FirmwareType string
}

// DownloadOutcome is the terminal result of a download worker.
type DownloadOutcome struct {
	LocalPath string
}

// FlashRequest carries the client-supplied flash parameters.
type FlashRequest struct {
	FirmwareName    string
	FirmwareType    string
	Location        string
	RebootImmediate bool
}

// AckReply is the immediate method reply for DownloadFirmware and
// UpdateFirmware: a result tag, a status tag, and a human-readable message.
type AckReply struct {
	Result  string
	Status  string
	Message string
}

// Checker is the update-check collaborator. Check blocks on network I/O and
// runs only on worker goroutines.
type Checker interface {
	Check(ctx context.Context) (CheckResult, error)
}

// CheckCache is the fast local probe consulted before the check coordinator.
type CheckCache interface {
	// Probe reports whether a usable cached result exists. Must be cheap
	// and non-blocking; it runs on the dispatch goroutine.
	Probe() bool
	// Load reads the cached result. ok is false when the cache is missing
	// or unreadable.
	Load() (res CheckResult, ok bool)
}

// Downloader is the firmware download collaborator.
type Downloader interface {
	// Download blocks until the transfer finishes; worker goroutines only.
	Download(ctx context.Context, req DownloadRequest) (DownloadOutcome, error)
	// LocalPath reports whether the named firmware is already present
	// locally. Cheap; runs on the dispatch goroutine.
	LocalPath(firmwareName string) (string, bool)
}

// Flasher is the firmware flash collaborator.
type Flasher interface {
	Flash(ctx context.Context, req FlashRequest) error
}

// ProgressMonitor observes incremental transfer progress and reports
// percentages. Run blocks until ctx is cancelled; report may be called from
// the monitor's own goroutine and must therefore be thread-safe.
type ProgressMonitor interface {
	Run(ctx context.Context, report func(percent int))
}

// Broadcaster emits the asynchronous bus signals that carry operation
// outcomes to all listeners, not just the waiting requesters. Implemented by
// the daemon layer over the bus connection; a recorder stands in for tests.
type Broadcaster interface {
	CheckForUpdateComplete(handle uint64, res CheckResult)
	DownloadProgress(handle uint64, firmwareName string, percent int, status, message string)
	DownloadError(handle uint64, firmwareName string, status, message string)
	UpdateProgress(handle uint64, firmwareName string, percent int, statusCode int32, message string)
}
