package module

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/metrics"
	"github.com/eidolon/eidolon/internal/observability"
	"github.com/eidolon/eidolon/internal/workerpool"
)

const defaultCycleTime = 5 * time.Second

// BaseModule implements Module's lifecycle machinery and supplies a
// no-op default for every Hooks method, so a concrete module only needs
// to override what it actually does. Embed it by value-of-pointer and
// construct with NewBase, passing the outer type as self so BaseModule's
// driver loop dispatches to the outer type's overrides rather than its
// own defaults:
//
//	type Fetcher struct { *module.BaseModule }
//	func NewFetcher(m domain.ModuleManifest) *Fetcher {
//	    f := &Fetcher{}
//	    f.BaseModule = module.NewBase(m, f)
//	    return f
//	}
//
// The driver dispatches across the run modes (once/loop/reactive/
// on_trigger), maintains the processing-lock plus input-received edge
// flag that gates a reactive module's RunIteration until new input has
// arrived, and answers the Invoke command surface ('S' status, 'R'
// reset, 'P' probe).
type BaseModule struct {
	self Hooks

	manifest  domain.ModuleManifest
	name      string
	runMode   domain.RunMode
	cycleTime time.Duration
	outTopic  string

	argMu     sync.RWMutex
	arguments map[string]any

	inputMu     sync.Mutex
	inputBuffer map[string]domain.Envelope

	processingLock sync.Mutex
	inputReceived  atomic.Bool

	running    atomic.Bool
	completed  atomic.Bool
	processing atomic.Bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	pool *workerpool.Pool
}

// NewBase constructs a BaseModule for manifest, dispatching overridable
// hooks to self.
func NewBase(manifest domain.ModuleManifest, self Hooks) *BaseModule {
	outTopic := manifest.Name
	if len(manifest.Outputs) > 0 {
		outTopic = manifest.Outputs[0].Name
	}
	return &BaseModule{
		self:        self,
		manifest:    manifest,
		name:        manifest.Name,
		runMode:     domain.RunModeOnce,
		cycleTime:   defaultCycleTime,
		outTopic:    outTopic,
		arguments:   make(map[string]any),
		inputBuffer: make(map[string]domain.Envelope),
		shutdownCh:  make(chan struct{}),
	}
}

func (b *BaseModule) Name() string                    { return b.name }
func (b *BaseModule) Manifest() domain.ModuleManifest { return b.manifest }
func (b *BaseModule) RunMode() domain.RunMode         { return b.runMode }
func (b *BaseModule) CycleTime() time.Duration        { return b.cycleTime }
func (b *BaseModule) DefaultOutputTopic() string      { return b.outTopic }
func (b *BaseModule) Running() bool                   { return b.running.Load() }
func (b *BaseModule) Completed() bool                 { return b.completed.Load() }
func (b *BaseModule) Processing() bool                { return b.processing.Load() }

// PendingInput reports whether a reactive module has received input it
// has not yet run an iteration for; the engine's completion monitor
// treats a module in this state as still busy.
func (b *BaseModule) PendingInput() bool { return b.inputReceived.Load() }

// SetRunMode replaces the default once run mode with the run_mode the
// pipeline entry selects.
func (b *BaseModule) SetRunMode(mode domain.RunMode) { b.runMode = mode }

// SetCycleTime overrides the default 5s loop-mode pacing.
func (b *BaseModule) SetCycleTime(d time.Duration) {
	if d > 0 {
		b.cycleTime = d
	}
}

// SetDefaultOutputTopic replaces the default publish topic (the
// manifest's first declared output, or the module name when it declares
// none). internal/engine calls it with that output's topic as the
// pipeline maps it.
func (b *BaseModule) SetDefaultOutputTopic(topic string) { b.outTopic = topic }

// SetWorkerPool hands the module the engine's bounded pool for
// RunBlocking calls.
func (b *BaseModule) SetWorkerPool(p *workerpool.Pool) { b.pool = p }

// RunBlocking offloads a blocking or CPU-bound call onto the engine's
// worker pool, waiting for the result. Without a pool (unit tests,
// standalone probing) fn runs inline.
func (b *BaseModule) RunBlocking(ctx context.Context, fn func() (any, error)) (any, error) {
	if b.pool == nil {
		return fn()
	}
	return b.pool.RunBlocking(ctx, fn)
}

// SetArguments merges args into the module's configuration, read back
// via GetArgument. Values set here come from the pipeline manifest's
// per-module config block, with CLI --set overrides applied afterward
// by internal/engine so CLI wins.
func (b *BaseModule) SetArguments(args map[string]any) {
	b.argMu.Lock()
	defer b.argMu.Unlock()
	for k, v := range args {
		b.arguments[k] = v
	}
	if ct, ok := b.arguments["cycle_time"]; ok {
		if d, ok := parseDuration(ct); ok {
			b.cycleTime = d
		}
	}
}

// GetArgument reads a configuration value, falling back to def if unset.
func (b *BaseModule) GetArgument(key string, def any) any {
	b.argMu.RLock()
	defer b.argMu.RUnlock()
	if v, ok := b.arguments[key]; ok {
		return v
	}
	return def
}

func parseDuration(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n * float64(time.Second)), true
	case time.Duration:
		return n, true
	default:
		return 0, false
	}
}

// Default no-op Hooks, overridden selectively by concrete modules.
func (b *BaseModule) Initialize() error                                            { return nil }
func (b *BaseModule) BeforeRun(ctx context.Context, bus *messagebus.Bus) error      { return nil }
func (b *BaseModule) RunIteration(ctx context.Context, bus *messagebus.Bus) error   { return nil }
func (b *BaseModule) AfterRun(ctx context.Context, bus *messagebus.Bus) error       { return nil }
func (b *BaseModule) OnShutdown(ctx context.Context) error                         { return nil }
func (b *BaseModule) HandleCustomCommand(cmd byte) domain.Device {
	return domain.Device{
		Name:   b.name,
		Errors: []string{fmt.Sprintf("unsupported command %q", cmd)},
	}
}

// ProcessInput is the default Hooks implementation: it just buffers the
// envelope under its topic, for a RunIteration override to read via
// LatestInput. Modules that need to react immediately override this.
func (b *BaseModule) ProcessInput(ctx context.Context, env domain.Envelope) error {
	b.inputMu.Lock()
	b.inputBuffer[env.Topic] = env
	b.inputMu.Unlock()
	return nil
}

// LatestInput returns the most recent buffered envelope for topic, if
// any — for RunIteration overrides that rely on the default ProcessInput.
func (b *BaseModule) LatestInput(topic string) (domain.Envelope, bool) {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	env, ok := b.inputBuffer[topic]
	return env, ok
}

// HandleInput is the fixed, non-overridable entry point wired as the
// bus Subscriber callback: it isolates self.ProcessInput's errors/panics
// and, for a reactive module, flips the input-received edge flag that
// Run's reactive loop waits on.
func (b *BaseModule) HandleInput(ctx context.Context, env domain.Envelope) (err error) {
	ctx = observability.InjectTraceContext(ctx, observability.TraceContext{
		TraceParent: env.TraceParent,
		TraceState:  env.TraceState,
	})

	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("module panicked processing input", "module", b.name, "topic", env.Topic, "panic", r)
			err = fmt.Errorf("module %q panicked processing input on %q: %v", b.name, env.Topic, r)
		}
	}()

	if herr := b.self.ProcessInput(ctx, env); herr != nil {
		logging.Op().Warn("module input processing failed", "module", b.name, "topic", env.Topic, "error", herr)
		err = herr
	}
	if b.runMode == domain.RunModeReactive || b.runMode == domain.RunModeOnTrigger {
		b.inputReceived.Store(true)
	}
	return err
}

// Run drives the module through its full lifecycle: Initialize was
// already called by internal/engine before wiring; Run performs
// BeforeRun, the run-mode-dependent iteration loop, and AfterRun, then
// returns when ctx is cancelled or (for RunModeOnce) after the single
// iteration completes.
func (b *BaseModule) Run(ctx context.Context, bus *messagebus.Bus) error {
	b.running.Store(true)
	metrics.Global().RecordModuleStarted()
	defer func() {
		b.running.Store(false)
		metrics.Global().RecordModuleFinished()
	}()

	if err := b.self.BeforeRun(ctx, bus); err != nil {
		logging.Op().Error("module BeforeRun failed", "module", b.name, "error", err)
		b.completed.Store(true)
		return err
	}

	var runErr error
	switch b.runMode {
	case domain.RunModeOnce:
		runErr = b.runOnceIteration(ctx, bus)
		b.completed.Store(true)
	case domain.RunModeLoop, domain.RunModeOnTrigger:
		runErr = b.runLoop(ctx, bus)
	case domain.RunModeReactive:
		runErr = b.runReactive(ctx, bus)
	default:
		runErr = fmt.Errorf("module %q: unknown run mode %q", b.name, b.runMode)
	}

	if afterErr := b.self.AfterRun(ctx, bus); afterErr != nil {
		logging.Op().Warn("module AfterRun failed", "module", b.name, "error", afterErr)
	}
	return runErr
}

func (b *BaseModule) runOnceIteration(ctx context.Context, bus *messagebus.Bus) error {
	return b.safeIteration(ctx, bus)
}

// runLoop re-invokes RunIteration every CycleTime until ctx is
// cancelled. A single iteration's error is logged and isolated: the
// loop keeps running, and only a fatal error exits it.
func (b *BaseModule) runLoop(ctx context.Context, bus *messagebus.Bus) error {
	ticker := time.NewTicker(b.cycleTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.shutdownCh:
			return nil
		case <-ticker.C:
			if err := b.safeIteration(ctx, bus); err != nil {
				if isFatal(err) {
					b.completed.Store(true)
					return err
				}
			}
		}
	}
}

// runReactive waits for the input-received edge flag before running an
// iteration, then clears it, implementing the processing-lock pattern:
// at most one RunIteration runs at a time, and a flood of inputs that
// arrive mid-iteration coalesces into exactly one further iteration
// rather than one per input.
func (b *BaseModule) runReactive(ctx context.Context, bus *messagebus.Bus) error {
	poll := time.NewTicker(25 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.shutdownCh:
			return nil
		case <-poll.C:
			if !b.inputReceived.CompareAndSwap(true, false) {
				continue
			}
			if err := b.safeIteration(ctx, bus); err != nil && isFatal(err) {
				b.completed.Store(true)
				return err
			}
		}
	}
}

// safeIteration runs self.RunIteration under the processing lock,
// tracking Processing() and recovering a panic into an error so the
// engine's monitor never sees a goroutine crash the process.
func (b *BaseModule) safeIteration(ctx context.Context, bus *messagebus.Bus) (err error) {
	b.processingLock.Lock()
	defer b.processingLock.Unlock()

	b.processing.Store(true)
	defer b.processing.Store(false)

	ctx, span := observability.StartSpan(ctx, "module.iteration",
		observability.AttrModuleName.String(b.name),
		observability.AttrRunMode.String(string(b.runMode)),
	)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("module panicked during iteration", "module", b.name, "panic", r)
			err = fmt.Errorf("module %q panicked: %v", b.name, r)
		}

		elapsed := time.Since(start).Milliseconds()
		metrics.Global().RecordIteration(b.name, string(b.runMode), elapsed, err == nil)
		logging.Default().Log(&logging.ActivityLog{
			Module:     b.name,
			RunMode:    string(b.runMode),
			DurationMs: elapsed,
			Success:    err == nil,
			Error:      errString(err),
		})
		if err != nil {
			observability.SetSpanError(span, err)
		}
		span.End()
	}()

	if err := b.self.RunIteration(ctx, bus); err != nil {
		logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx)).
			Warn("module iteration failed", "module", b.name, "error", err)
		return err
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// isFatal decides whether an iteration error should stop the module
// entirely. Every error surfaced here already passed through recover(),
// so there is no distinct "fatal" Go error type to check for; the
// isolation boundary is the iteration itself, not the error value, so
// loop/reactive modules always keep running after a reported error,
// including a panic that safeIteration turned into an error. This
// always returns false; it exists so a future typed "fatal error" can
// plug in without reshaping the run-mode loops.
func isFatal(err error) bool {
	return false
}

// Shutdown fires OnShutdown once, closing shutdownCh so runLoop/
// runReactive unblock promptly instead of waiting out the remainder of
// a ticker or poll interval.
func (b *BaseModule) Shutdown(ctx context.Context) error {
	var err error
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
		err = b.self.OnShutdown(ctx)
		if err != nil {
			logging.Op().Warn("module OnShutdown failed", "module", b.name, "error", err)
		}
	})
	return err
}

// Invoke answers the built-in command characters ('S'tatus, 'R'eset,
// 'P'robe) directly and defers anything else to self.HandleCustomCommand.
func (b *BaseModule) Invoke(cmd byte) domain.Device {
	switch cmd {
	case 'S':
		return domain.Device{
			Name:     b.name,
			Firmware: string(b.runMode),
			Protocol: statusString(b),
		}
	case 'R':
		b.completed.Store(false)
		b.inputReceived.Store(false)
		return domain.Device{Name: b.name, Protocol: "reset"}
	case 'P':
		return domain.Device{Name: b.name, Protocol: "probe", Firmware: string(b.runMode)}
	default:
		return b.self.HandleCustomCommand(cmd)
	}
}

func statusString(b *BaseModule) string {
	switch {
	case b.Completed():
		return "completed"
	case b.Processing():
		return "processing"
	case b.Running():
		return "running"
	default:
		return "idle"
	}
}
