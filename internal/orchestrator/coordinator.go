package orchestrator

// coordinator implements the single-flight/piggyback protocol for one
// operation type. While a leader's worker is running, identical requests
// piggyback onto the waiting list and requests for a different target are
// rejected without touching any state here.
//
// Owned by the dispatch goroutine; never referenced from workers.
type coordinator struct {
	op         opType
	inProgress bool

	// waiting holds task ids in admission order. Non-empty only while
	// inProgress is true.
	waiting []uint64

	// target pins download/flash rounds to a single firmware identity.
	// Empty for the check coordinator, which has one logical target.
	target string

	// round identifies the current single-flight round. Completion events
	// from earlier rounds (a timed-out worker finishing late) are ignored.
	round string

	// leaderHandle is the registration handle of the request that spawned
	// the worker; broadcast signals carry it.
	leaderHandle uint64

	// percent is the last observed progress for download/flash rounds.
	percent int
}

// claim marks the coordinator busy on behalf of a leader.
func (c *coordinator) claim(target, round string, leaderHandle uint64) {
	c.inProgress = true
	c.target = target
	c.round = round
	c.leaderHandle = leaderHandle
	c.percent = 0
}

// admit adds a task to the waiting list.
func (c *coordinator) admit(taskID uint64) {
	c.waiting = append(c.waiting, taskID)
}

// sameTarget reports whether a new request joins the in-flight round.
func (c *coordinator) sameTarget(target string) bool {
	return c.target == target
}

// currentRound reports whether an event belongs to the in-flight round.
func (c *coordinator) currentRound(round string) bool {
	return c.inProgress && c.round == round
}

// reset returns the coordinator to idle. The caller has already drained the
// waiting list.
func (c *coordinator) reset() {
	c.inProgress = false
	c.waiting = nil
	c.target = ""
	c.round = ""
	c.leaderHandle = 0
	c.percent = 0
}
