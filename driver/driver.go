// Package driver implements the outer loop described in spec.md §4.4:
// pick the next action, speculatively extend the cycle graph, feed the
// current function node, and commit or roll back depending on
// feasibility.
//
// Grounded on go-weave/amb/run.go's Strategy/Scheduler split (formalized
// here as the Scheduler interface) and on original_source/cyclegraph.cc's
// transaction discipline, which CycleGraph already implements; this
// package is the thing that calls BeginTxn/Commit/Rollback in the right
// order and collects the bugs and stats spec.md §7 and §4.2 describe.
package driver

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Ricagraca/c11tester/action"
	"github.com/Ricagraca/c11tester/config"
	"github.com/Ricagraca/c11tester/cyclegraph"
	"github.com/Ricagraca/c11tester/history"
	"github.com/Ricagraca/c11tester/metrics"
	"github.com/Ricagraca/c11tester/predtree"
)

// Scheduler is the external collaborator spec.md §6 describes as
// "consumed from the scheduler (not specified here)".
type Scheduler interface {
	NextThread() (action.ThreadID, bool)
	Sleep(action.ThreadID)
	SetCurrent(action.ThreadID)
}

// Snapshotter is the external collaborator spec.md §6 calls "the snapshot
// manager".
type Snapshotter interface {
	Snapshot() interface{}
	Restore(handle interface{})
	BacktrackBefore(seq uint64)
}

// Bug is a user-visible defect collected during one execution: a data
// race, a user assertion, or a failed atomicity check. Bugs never abort
// the checker; they are reported at the end of a feasible execution
// (spec.md §7, taxon 2).
type Bug struct {
	Description string
	Seq         uint64
}

// ExecutionDriver owns the per-execution CycleGraph and the cross-
// execution learned state (HistoryIndex and every FunctionNode), and
// coordinates transactional retirement of actions.
type ExecutionDriver struct {
	Graph   *cyclegraph.CycleGraph
	History *history.Index
	Config  *config.Config
	Metrics *metrics.Metrics

	funcNodes map[string]*predtree.FunctionNode
	callStack map[action.ThreadID][]*predtree.FunctionNode

	bugs      []Bug
	execCount int
	seq       uint64
	trace     []action.Record

	log *slog.Logger
}

// New returns a driver ready for its first execution.
func New(cfg *config.Config, m *metrics.Metrics) *ExecutionDriver {
	if cfg == nil {
		cfg = config.Default()
	}
	return &ExecutionDriver{
		Graph:     cyclegraph.New(),
		History:   history.New(),
		Config:    cfg,
		Metrics:   m,
		funcNodes: make(map[string]*predtree.FunctionNode),
		callStack: make(map[action.ThreadID][]*predtree.FunctionNode),
		log:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: verbosity(cfg.Verbose)})),
	}
}

// verbosity maps config.Config.Verbose (spec.md §6's 0..3 scale) onto a
// slog level: 0 is warnings-and-above only, 3 is everything driver logs.
func verbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelWarn
	case v == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// FunctionNode returns the learner for id, creating it on first use. The
// learner and everything it has learned survives every later call to
// BeginExecution (spec.md §3's Lifecycles note).
func (d *ExecutionDriver) FunctionNode(id string) *predtree.FunctionNode {
	fn, ok := d.funcNodes[id]
	if !ok {
		fn = predtree.New(d.History, d.Config.NullMask)
		d.funcNodes[id] = fn
	}
	return fn
}

// OnFunctionEntry pushes id's function node onto tid's call stack.
func (d *ExecutionDriver) OnFunctionEntry(tid action.ThreadID, id string) {
	fn := d.FunctionNode(id)
	fn.Enter(tid)
	d.callStack[tid] = append(d.callStack[tid], fn)
}

// OnFunctionExit pops tid's innermost active function node.
func (d *ExecutionDriver) OnFunctionExit(tid action.ThreadID) {
	stack := d.callStack[tid]
	if len(stack) == 0 {
		return
	}
	top := stack[len(stack)-1]
	top.Exit(tid)
	d.callStack[tid] = stack[:len(stack)-1]
	if len(d.callStack[tid]) == 0 {
		delete(d.callStack, tid)
	}
}

// currentFunctionNode returns the function node currently executing on
// tid's call stack, or nil if tid is not inside any instrumented function.
func (d *ExecutionDriver) currentFunctionNode(tid action.ThreadID) *predtree.FunctionNode {
	stack := d.callStack[tid]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// CurrentFunctionNode exposes currentFunctionNode to callers (such as
// checker.Checker) that need to feed a promised read to the predicate
// tree before the action has gone through Retire.
func (d *ExecutionDriver) CurrentFunctionNode(tid action.ThreadID) *predtree.FunctionNode {
	return d.currentFunctionNode(tid)
}

// nextSeq assigns the next monotone sequence number.
func (d *ExecutionDriver) nextSeq() uint64 {
	d.seq++
	return d.seq
}

// AssignSeq gives act the next sequence number, for callers that must
// register an action with the graph before it goes through Retire (e.g. a
// promised read).
func (d *ExecutionDriver) AssignSeq(act *action.Record) {
	act.Seq = d.nextSeq()
}

// Retire is called once per observable action as it retires. edges is the
// set of ordering constraints the caller (typically checker.Checker,
// having already decided reads-from and modification order) wants
// speculatively added before this action is accepted; rmw, if non-nil, is
// the write this RMW action reads from. Retire opens a transaction, adds
// every edge, feeds the action to the current function node, and commits
// or rolls back depending on feasibility.
func (d *ExecutionDriver) Retire(act *action.Record, edges []*action.Record, rmwFrom *action.Record) bool {
	act.Seq = d.nextSeq()

	d.Graph.BeginTxn()
	ok := true
	for _, from := range edges {
		if !d.Graph.AddEdge(from, act) {
			ok = false
		}
	}
	if rmwFrom != nil {
		if !d.Graph.AddRMWEdge(rmwFrom, act) {
			ok = false
		}
	}

	if !ok {
		d.Graph.Rollback()
		d.log.Debug("rolled back infeasible action", "thread", act.Thread, "kind", act.Kind)
		if d.Metrics != nil {
			d.Metrics.Rollbacks.Inc()
			d.Metrics.CyclesDetected.Inc()
		}
		return false
	}

	d.Graph.Commit()
	d.trace = append(d.trace, *act)
	d.log.Debug("retired action", "seq", act.Seq, "thread", act.Thread, "kind", act.Kind)
	if fn := d.currentFunctionNode(act.Thread); fn != nil {
		fn.UpdateTree(act.Thread, act)
	}
	return true
}

// Trace returns an immutable ordered view of every action retired in the
// current execution (spec.md §6), in retirement order.
func (d *ExecutionDriver) Trace() []action.Record {
	out := make([]action.Record, len(d.trace))
	copy(out, d.trace)
	return out
}

// ReportBug appends a user-visible bug to the current execution's list.
func (d *ExecutionDriver) ReportBug(description string) {
	d.bugs = append(d.bugs, Bug{Description: description, Seq: d.seq})
	d.log.Warn("bug reported", "description", description)
	if d.Metrics != nil {
		d.Metrics.Bugs.Inc()
	}
}

// Bugs returns every bug collected so far in the current execution.
func (d *ExecutionDriver) Bugs() []Bug { return d.bugs }

// BeginExecution discards per-execution state (the cycle graph, the trace
// and the bug list) and bumps the execution counter; the learned model
// (function nodes, the history index) is untouched. It returns false once
// MaxExecutions has been reached.
func (d *ExecutionDriver) BeginExecution() bool {
	if d.Config.MaxExecutions > 0 && d.execCount >= d.Config.MaxExecutions {
		return false
	}
	d.execCount++
	d.Graph.Reset()
	d.seq = 0
	d.trace = d.trace[:0]
	d.bugs = nil
	d.log.Info("beginning execution", "exec", d.execCount)
	if d.Metrics != nil {
		d.Metrics.Executions.Inc()
	}
	return true
}

// ExecutionCount returns the number of executions started so far.
func (d *ExecutionDriver) ExecutionCount() int { return d.execCount }

// EndExecution closes out the current execution: if the graph is
// infeasible it is recorded as a bug (spec.md §7's taxon 3), and if
// config.DumpCycleGraph is set, the graph is written as a dot file under
// config.DotDumpDir, named after the execution count, for offline
// inspection (spec.md §6's dot-graph dump, diagnostic output only — not
// resumable state, per spec.md §1's Non-goals).
func (d *ExecutionDriver) EndExecution() error {
	if d.Graph.HasCycles() {
		d.ReportBug(fmt.Sprintf("execution %d is infeasible: a modification-order/happens-before cycle was retired without rollback", d.execCount))
	}
	if d.Metrics != nil {
		var leaves int
		for _, fn := range d.funcNodes {
			leaves += fn.Stats().Leaves
		}
		d.Metrics.LearnedLeaves.Set(float64(leaves))
	}
	if !d.Config.DumpCycleGraph {
		return nil
	}
	path := filepath.Join(d.Config.DotDumpDir, fmt.Sprintf("exec-%04d.dot", d.execCount))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Graph.WriteDot(f, fmt.Sprintf("exec%d", d.execCount))
}

// errorWithTrace wraps an internal invariant violation (spec.md §7, taxon
// 3) with the in-flight trace at the point of the panic, grounded on
// go-weave/weave/trace.go's errorWithTrace: a recovered panic is re-raised
// as an error that still carries enough context to diagnose.
type errorWithTrace struct {
	cause interface{}
	trace []action.Record
}

func (e *errorWithTrace) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%v\ntrace:", e.cause)
	for _, act := range e.trace {
		fmt.Fprintf(&buf, "\n  T%d %s", act.Thread, act.Kind)
	}
	return buf.String()
}

// Run executes fn within a single BeginExecution/EndExecution bracket,
// recovering any internal-invariant panic and attaching the in-flight
// trace before returning it as an error, rather than letting it escape
// silently (spec.md §7, taxon 3: these abort the checker, but with a
// trace attached).
func (d *ExecutionDriver) Run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errorWithTrace{cause: r, trace: d.Trace()}
		}
	}()
	if !d.BeginExecution() {
		return fmt.Errorf("driver: max executions reached")
	}
	if err = fn(); err != nil {
		return err
	}
	return d.EndExecution()
}

// String is a short diagnostic summary, useful in test failure messages.
func (d *ExecutionDriver) String() string {
	return fmt.Sprintf("driver{execs=%d seq=%d bugs=%d}", d.execCount, d.seq, len(d.bugs))
}
