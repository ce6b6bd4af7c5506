// Package engine is the top-level orchestrator of a pipeline run: it
// loads the pipeline definition, discovers and verifies modules on
// disk, wires every instance onto the message bus, launches the
// run-tasks, monitors for natural completion, and drives the bounded
// graceful shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eidolon/eidolon/internal/config"
	"github.com/eidolon/eidolon/internal/discovery"
	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/observability"
	"github.com/eidolon/eidolon/internal/pipeline"
	"github.com/eidolon/eidolon/internal/security"
	"github.com/eidolon/eidolon/internal/shutdown"
	"github.com/eidolon/eidolon/internal/translator"
	"github.com/eidolon/eidolon/internal/workerpool"
)

// ErrTimeout is returned by Run when the pipeline-level timeout expired
// before the pipeline finished on its own.
var ErrTimeout = errors.New("engine: pipeline timeout expired")

// ErrWire wraps any failure during the bus wiring phase; wiring
// failures are always fatal to the run.
var ErrWire = errors.New("engine: wiring failed")

// Options carries the per-run settings the CLI (or an embedding
// program) passes in. Every CLI flag has a field here, so the engine
// API accepts the same surface as a structured input.
type Options struct {
	PipelineName string

	// Overrides maps module-id -> key -> value, from --set id.key=value.
	// Applied after the pipeline's per-module config block, so CLI wins.
	Overrides map[string]map[string]any

	DryRun         bool
	Timeout        time.Duration // overrides the pipeline's execution.timeout when > 0
	IgnoreWarnings bool
	OutputPath     string // dry-run report sink; empty means stdout

	SecurityMode    domain.SecurityMode
	AllowUnverified bool
	Prompt          discovery.Prompt
}

// instance is one wired pipeline module: the manifest entry, the live
// module, and its manifest.
type instance struct {
	spec     domain.PipelineModuleSpec
	mod      module.Module
	manifest domain.ModuleManifest
}

// Engine orchestrates a single pipeline run. It exclusively owns the
// module instances, the bus, the worker pool, the shutdown coordinator,
// and the loaded pipeline definition.
type Engine struct {
	cfg     *config.Config
	signers *security.SignerStore
	opts    Options

	def       *domain.PipelineDefinition
	bus       *messagebus.Bus
	pool      *workerpool.Pool
	coord     *shutdown.Coordinator
	instances []*instance

	// records caches each discovered module's verification outcome for
	// the lifetime of the run; VerificationRecords reads from here rather
	// than re-hashing the directory.
	recordsMu sync.Mutex
	records   map[string]domain.VerificationRecord
}

// New constructs an Engine. cfg and signers are injected collaborators
// scoped to this run, never process singletons.
func New(cfg *config.Config, signers *security.SignerStore, opts Options) *Engine {
	if opts.SecurityMode == "" {
		opts.SecurityMode = domain.SecurityMode(cfg.Security.Mode)
	}
	return &Engine{
		cfg:     cfg,
		signers: signers,
		opts:    opts,
		records: make(map[string]domain.VerificationRecord),
	}
}

// VerificationRecords returns the cached per-module verification
// outcomes from the current run.
func (e *Engine) VerificationRecords() map[string]domain.VerificationRecord {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	out := make(map[string]domain.VerificationRecord, len(e.records))
	for k, v := range e.records {
		out[k] = v
	}
	return out
}

// Probe forwards a command character to the named module instance,
// for out-of-band tooling. Valid only between wiring and shutdown.
func (e *Engine) Probe(moduleID string, cmd byte) (domain.Device, error) {
	for _, inst := range e.instances {
		if inst.spec.ID == moduleID {
			return inst.mod.Invoke(cmd), nil
		}
	}
	return domain.Device{}, fmt.Errorf("no module with id %q", moduleID)
}

// Run executes the full startup sequence and blocks until the pipeline
// finishes, a signal arrives, or the pipeline timeout expires. It
// always performs the graceful shutdown procedure before returning.
func (e *Engine) Run(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "engine.run")
	defer span.End()

	// 1. Load the pipeline; any failure here refuses the whole run.
	def, err := pipeline.Load(e.cfg.PipelineDir, e.opts.PipelineName)
	if err != nil {
		return err
	}
	e.def = def
	span.SetAttributes(observability.AttrPipeline.String(def.Name))

	// 2. Worker pool, sized from the pipeline's execution block and
	// bound to discovery's verification fan-out.
	maxThreads := def.Execution.MaxThreads
	if maxThreads <= 0 {
		maxThreads = e.cfg.Engine.MaxThreads
	}
	e.pool = workerpool.New(maxThreads)

	// 3–6. Discover, verify, instantiate, configure.
	if err := e.loadModules(); err != nil {
		return err
	}

	// 7. Wire outputs then inputs onto the bus.
	tr := translator.New(e.cfg.Translator.RulesFile, e.cfg.Translator.MaxCacheSize)
	e.bus = messagebus.New(tr, e.cfg.Bus.WarnOnEmptyPublish)
	if err := e.wire(); err != nil {
		return fmt.Errorf("%w: %v", ErrWire, err)
	}

	// 8. Dry-run branch: validate and report, never execute.
	if e.opts.DryRun {
		return e.dryRun()
	}

	// 9. Signal handling.
	e.coord = shutdown.New(nil)
	e.coord.InstallSignalHandlers()
	defer e.coord.StopSignalHandlers()

	if len(e.instances) == 0 {
		logging.Op().Warn("no modules to run; completing as a no-op", "pipeline", def.Name)
		e.coord.TriggerShutdown()
		return e.shutdownAll(ctx, nil, nil, nil)
	}

	// 10. Launch every module's run-task.
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	var wg sync.WaitGroup
	for _, inst := range e.instances {
		inst := inst
		e.coord.Register(inst.mod)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := inst.mod.Run(runCtx, e.bus)
			if err != nil {
				logging.Op().Error("module run ended with error", "module", inst.spec.ID, "error", err)
				return
			}
			logging.Op().Info("module run finished", "module", inst.spec.ID, "run_mode", inst.spec.RunMode)
		}()
	}

	// 11. Completion monitor.
	monitorDone := make(chan struct{})
	go e.monitor(runCtx, monitorDone)

	// 12. Wait for shutdown: monitor, signal, or pipeline timeout.
	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = def.Execution.Timeout
	}

	var runErr error
	if timeout > 0 {
		select {
		case <-e.coord.Done():
		case <-time.After(timeout):
			logging.Op().Warn("pipeline timeout expired, forcing shutdown", "timeout", timeout)
			runErr = ErrTimeout
			e.coord.TriggerShutdown()
		case <-ctx.Done():
			e.coord.TriggerShutdown()
		}
	} else {
		select {
		case <-e.coord.Done():
		case <-ctx.Done():
			e.coord.TriggerShutdown()
		}
	}
	close(monitorDone)

	// 13. Graceful shutdown with a bounded grace period.
	return e.shutdownAll(ctx, cancelRuns, &wg, runErr)
}

// loadModules performs discovery, verification, instantiation, and
// configuration for every module the pipeline names (steps 3–6).
func (e *Engine) loadModules() error {
	candidates, err := discovery.Scan(e.cfg.ModuleDir, e.signers, discovery.Options{
		SecurityMode:    e.opts.SecurityMode,
		AllowUnverified: e.opts.AllowUnverified,
		Prompt:          e.opts.Prompt,
		Parallelism:     e.pool.Cap(),
	})
	if err != nil {
		return err
	}

	byName := make(map[string]discovery.Candidate, len(candidates))
	e.recordsMu.Lock()
	for _, c := range candidates {
		byName[c.Manifest.Name] = c
		e.records[c.Manifest.Name] = c.Record
	}
	e.recordsMu.Unlock()

	for _, spec := range e.def.Modules {
		cand, ok := byName[spec.Name]
		if !ok {
			logging.Op().Warn("pipeline references a module that was not discovered or was excluded",
				"module", spec.Name, "id", spec.ID)
			continue
		}
		mod, ok := discovery.Build(cand.Manifest)
		if !ok {
			continue
		}

		args := make(map[string]any, len(spec.Config))
		for k, v := range spec.Config {
			args[k] = v
		}
		for k, v := range e.opts.Overrides[spec.ID] {
			args[k] = v
		}
		mod.SetArguments(args)
		mod.SetRunMode(spec.RunMode)

		if base, ok := mod.(interface{ SetWorkerPool(*workerpool.Pool) }); ok {
			base.SetWorkerPool(e.pool)
		}
		if topic, ok := defaultOutputTopic(spec, cand.Manifest); ok {
			if setter, ok := mod.(interface{ SetDefaultOutputTopic(string) }); ok {
				setter.SetDefaultOutputTopic(topic)
			}
		}

		if err := mod.Initialize(); err != nil {
			logging.Op().Error("module initialization failed, skipping", "module", spec.ID, "error", err)
			continue
		}

		e.instances = append(e.instances, &instance{spec: spec, mod: mod, manifest: cand.Manifest})
	}
	return nil
}

// defaultOutputTopic resolves a module instance's default publish topic:
// the first declared output, renamed if the pipeline maps it.
func defaultOutputTopic(spec domain.PipelineModuleSpec, m domain.ModuleManifest) (string, bool) {
	if len(m.Outputs) == 0 {
		return "", false
	}
	name := m.Outputs[0].Name
	for _, o := range spec.Outputs {
		if o.Name == name && o.Mapped != "" {
			return o.Mapped, true
		}
	}
	return name, true
}

// wire registers every instance's outputs first (so producer type
// conflicts surface before any subscription exists), then subscribes
// every input to its mapped source topic, or to a topic named after the
// input itself when unmapped.
func (e *Engine) wire() error {
	for _, inst := range e.instances {
		for _, out := range inst.manifest.Outputs {
			topic := out.Name
			for _, o := range inst.spec.Outputs {
				if o.Name == out.Name && o.Mapped != "" {
					topic = o.Mapped
				}
			}
			if err := e.bus.RegisterOutput(topic, out.Type, out.Description, inst.spec.ID); err != nil {
				return err
			}
		}
	}

	for _, inst := range e.instances {
		mapped := make(map[string]string, len(inst.spec.InputMappings))
		for _, im := range inst.spec.InputMappings {
			mapped[im.Name] = im.SourceOutput
		}
		for _, in := range inst.manifest.Inputs {
			topic := in.Name
			if src, ok := mapped[in.Name]; ok && src != "" {
				topic = src
			}
			e.bus.RegisterInput(topic, in.Type, in.Description, inst.spec.ID)
			if err := e.bus.Subscribe(topic, inst.spec.ID, inst.mod.HandleInput, in.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// monitor periodically checks whether the pipeline has nothing left to
// do: every once module completed, every reactive module idle, and no
// loop/on_trigger modules present. When all three hold it triggers
// shutdown. Observations are eventually consistent; the once-completed
// check latches because Completed never un-sets during a run.
func (e *Engine) monitor(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.Engine.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if e.pipelineIdle() {
				logging.Op().Info("all modules completed, shutting down", "pipeline", e.def.Name)
				e.coord.TriggerShutdown()
				return
			}
		}
	}
}

func (e *Engine) pipelineIdle() bool {
	for _, inst := range e.instances {
		switch inst.mod.RunMode() {
		case domain.RunModeOnce:
			if !inst.mod.Completed() {
				return false
			}
		case domain.RunModeReactive:
			if inst.mod.Processing() || inst.mod.PendingInput() {
				return false
			}
		default:
			// A loop or on_trigger module never finishes on its own.
			return false
		}
	}
	return true
}

// shutdownAll runs the shutdown procedure: fire the event, stop every
// module in parallel, wait out the grace period for run-tasks, cancel
// stragglers, and close the worker pool.
func (e *Engine) shutdownAll(ctx context.Context, cancelRuns context.CancelFunc, wg *sync.WaitGroup, runErr error) error {
	grace := e.cfg.Engine.ShutdownGrace

	if e.coord != nil {
		e.coord.ShutdownApplication(ctx, grace)
	}

	if wg != nil {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			logging.Op().Warn("module run-tasks exceeded shutdown grace period, cancelling", "grace", grace)
			cancelRuns()
			<-done
		}
	}

	poolCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := e.pool.Close(poolCtx); err != nil {
		logging.Op().Warn("worker pool still had outstanding tasks at close", "error", err)
	}

	return runErr
}
