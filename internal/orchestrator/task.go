package orchestrator

// taskPayload is the operation-specific half of a task context. Exactly one
// concrete type exists per operation, selected by taskContext.op.
type taskPayload interface {
	isTaskPayload()
}

// checkData holds the update-check result fields filled in at completion.
type checkData struct {
	result CheckResult
}

// downloadData pins a download task to one firmware identity and tracks the
// last observed transfer state.
type downloadData struct {
	req       DownloadRequest
	percent   int
	status    string
	errMsg    string
	localPath string
}

// flashData pins a flash task to one firmware image.
type flashData struct {
	req     FlashRequest
	percent int
}

func (*checkData) isTaskPayload()    {}
func (*downloadData) isTaskPayload() {}
func (*flashData) isTaskPayload()    {}

// taskContext describes one in-flight client request: who asked, which
// operation it belongs to, and the operation payload. The reply handle is
// consumed the moment the immediate method reply is sent; after that only
// broadcast signals can reach the requester.
type taskContext struct {
	id          uint64
	op          opType
	handle      uint64
	processName string
	sender      string

	// reply, when non-nil, is the still-owed immediate reply. Admission
	// sends it and nils it out in the same dispatch turn.
	reply func()

	payload taskPayload
}

// consumeReply sends the immediate reply at most once.
func (t *taskContext) consumeReply() {
	if t.reply != nil {
		t.reply()
		t.reply = nil
	}
}

// taskTable is the authoritative set of requests not yet answered,
// keyed by task id. Owned by the dispatch goroutine.
type taskTable struct {
	tasks map[uint64]*taskContext
	next  uint64
}

func newTaskTable() *taskTable {
	return &taskTable{tasks: make(map[uint64]*taskContext), next: 1}
}

// add assigns the next task id, stores the context, and returns the id.
func (tt *taskTable) add(ctx *taskContext) uint64 {
	ctx.id = tt.next
	tt.next++
	tt.tasks[ctx.id] = ctx
	return ctx.id
}

func (tt *taskTable) lookup(id uint64) *taskContext {
	return tt.tasks[id]
}

func (tt *taskTable) remove(id uint64) {
	delete(tt.tasks, id)
}

func (tt *taskTable) len() int {
	return len(tt.tasks)
}
