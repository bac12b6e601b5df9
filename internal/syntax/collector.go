package syntax

import (
	"context"
	"sync"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"golang.org/x/sync/semaphore"
)

// Collector owns the global permit semaphore and spawns CPU-bound parse
// tasks (spec §4.7). A permit is acquired non-blockingly at spawn time
// and released only when the engine call returns — never on cancellation
// — matching "the permit drop is co-located with the blocking parse
// call".
type Collector struct {
	sem    *semaphore.Weighted
	engine ports.Engine
	taskAlloc ids.TaskAllocator

	mu        sync.Mutex
	completed []CompletedTask
	detached  map[ids.TaskId]bool
}

// NewCollector constructs a Collector with the given permit capacity
// (spec's max_concurrency, typically 2-4).
func NewCollector(engine ports.Engine, maxConcurrency int) *Collector {
	return &Collector{
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		engine:   engine,
		detached: make(map[ids.TaskId]bool),
	}
}

// spawnSpec describes one parse task to spawn.
type spawnSpec struct {
	docID       ids.DocId
	epoch       uint32
	kind        TaskKind
	viewportKey ViewportKey
	docVersion  uint64

	// Full/incremental.
	source     string
	languageID string
	loader     ports.LanguageLoader
	opts       ports.ParseOptions

	// Incremental only.
	base       ports.SyntaxTree
	oldSource  string
	changes    ports.ChangeSet

	// Viewport only.
	window     string
	baseOffset int
	timeout    func(context.Context) (context.Context, context.CancelFunc)
}

// TrySpawn attempts to acquire a permit and, on success, starts the parse
// in its own goroutine and returns (taskID, true). On permit exhaustion it
// returns (0, false) — the caller must return Pending, not Throttled (spec
// §4.6 step 9: "if none available, return Pending — retries are cheap").
func (c *Collector) TrySpawn(ctx context.Context, spec spawnSpec) (ids.TaskId, bool) {
	if !c.sem.TryAcquire(1) {
		return 0, false
	}
	taskID := c.taskAlloc.Next()
	go c.run(ctx, taskID, spec)
	return taskID, true
}

func (c *Collector) run(ctx context.Context, taskID ids.TaskId, spec spawnSpec) {
	defer c.sem.Release(1)

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.timeout != nil {
		runCtx, cancel = spec.timeout(ctx)
		defer cancel()
	}

	var tree ports.SyntaxTree
	var perr *ports.SyntaxError

	switch spec.kind {
	case TaskFull:
		tree, perr = c.engine.Parse(runCtx, spec.source, spec.languageID, spec.loader, spec.opts)
	case TaskIncremental:
		tree, perr = c.engine.Incremental(runCtx, spec.base, spec.oldSource, spec.source, spec.changes, spec.loader, spec.opts)
	case TaskViewportStageA, TaskViewportStageB:
		tree, perr = c.engine.ParseViewport(runCtx, spec.window, spec.languageID, spec.loader, spec.opts, spec.baseOffset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached[taskID] {
		delete(c.detached, taskID)
		return
	}
	c.completed = append(c.completed, CompletedTask{
		TaskID: taskID, DocID: spec.docID, Epoch: spec.epoch, Kind: spec.kind,
		ViewportKey: spec.viewportKey, DocVersion: spec.docVersion, Tree: tree, Err: perr,
	})
}

// Detach marks a task's eventual result as unwanted (epoch changed,
// document closed); the permit remains held until the CPU work actually
// finishes, per spec §4.6's retention-sweep note.
func (c *Collector) Detach(taskID ids.TaskId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached[taskID] = true
}

// DrainFinished returns and clears all completions collected so far; safe
// to call from either the tick loop or the render loop (spec §4.7).
func (c *Collector) DrainFinished() []CompletedTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.completed
	c.completed = nil
	return out
}
