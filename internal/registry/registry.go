// Package registry tracks client processes registered with the daemon.
//
// A registration binds a caller-chosen process name and the caller's bus
// sender identity to a server-issued numeric handle. Both the name and the
// sender are unique keys: one bus connection holds at most one registration,
// and a name cannot be claimed by two connections.
//
// Registry is not safe for concurrent use. The orchestrator's dispatch
// goroutine is the only caller.
package registry

import (
	"errors"
	"time"
)

// Conflict errors returned by Register. The messages are distinct so a
// client can tell "retry later / unregister first" from "pick another name".
var (
	ErrSenderRegistered = errors.New("sender already registered under a different name")
	ErrNameClaimed      = errors.New("name already claimed by another sender")
	ErrEmptyName        = errors.New("process name must not be empty")
)

// Record describes one registered client process.
type Record struct {
	Handle       uint64
	ProcessName  string
	LibVersion   string
	Sender       string
	RegisteredAt time.Time
}

// Registry maps handles to registered processes, with secondary indexes by
// sender identity and process name for O(1) conflict checks.
type Registry struct {
	byHandle map[uint64]*Record
	bySender map[string]*Record
	byName   map[string]*Record
	next     uint64
}

// New creates an empty registry. Handles start at 1; 0 is never issued.
func New() *Registry {
	return &Registry{
		byHandle: make(map[uint64]*Record),
		bySender: make(map[string]*Record),
		byName:   make(map[string]*Record),
		next:     1,
	}
}

// Register records a process and returns its handle.
//
// Re-registering the same (name, sender) pair is idempotent and returns the
// existing handle. A sender registering under a second name, or a name
// claimed from a second sender, is rejected.
func (r *Registry) Register(processName, libVersion, sender string) (uint64, error) {
	if processName == "" {
		return 0, ErrEmptyName
	}

	bySender := r.bySender[sender]
	byName := r.byName[processName]

	switch {
	case bySender != nil && bySender == byName:
		return bySender.Handle, nil
	case bySender != nil:
		return 0, ErrSenderRegistered
	case byName != nil:
		return 0, ErrNameClaimed
	}

	rec := &Record{
		Handle:       r.next,
		ProcessName:  processName,
		LibVersion:   libVersion,
		Sender:       sender,
		RegisteredAt: time.Now(),
	}
	r.next++

	r.byHandle[rec.Handle] = rec
	r.bySender[sender] = rec
	r.byName[processName] = rec
	return rec.Handle, nil
}

// Unregister removes the record for handle and reports whether it existed.
// Handle 0 is invalid input; callers must reject it before lookup.
func (r *Registry) Unregister(handle uint64) bool {
	rec, ok := r.byHandle[handle]
	if !ok {
		return false
	}
	delete(r.byHandle, handle)
	delete(r.bySender, rec.Sender)
	delete(r.byName, rec.ProcessName)
	return true
}

// Lookup returns the record for handle, or nil.
func (r *Registry) Lookup(handle uint64) *Record {
	return r.byHandle[handle]
}

// LookupBySender returns the record for a bus sender identity, or nil.
func (r *Registry) LookupBySender(sender string) *Record {
	return r.bySender[sender]
}

// DropSender removes any registration held by the given sender identity and
// reports whether one existed. Used when the bus reports a client disconnect.
func (r *Registry) DropSender(sender string) bool {
	rec, ok := r.bySender[sender]
	if !ok {
		return false
	}
	return r.Unregister(rec.Handle)
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	return len(r.byHandle)
}
