// Package module defines the runtime contract every pipeline module
// implements: a fixed set of lifecycle hooks, engine-facing operations
// (SetArguments, Run, Shutdown), and a small command interface for
// out-of-band probing.
package module

import (
	"context"
	"time"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/messagebus"
)

// Hooks are the methods a concrete module overrides. BaseModule supplies
// a no-op default for every one of them so a module only needs to
// implement what it actually does.
type Hooks interface {
	// Initialize runs once, synchronously, before the module is wired
	// onto the bus.
	Initialize() error

	// BeforeRun runs once, asynchronously, before the run-mode loop
	// starts.
	BeforeRun(ctx context.Context, bus *messagebus.Bus) error

	// RunIteration performs one unit of work. Its cadence is governed
	// by the module's run mode.
	RunIteration(ctx context.Context, bus *messagebus.Bus) error

	// ProcessInput handles one value delivered on a subscribed topic.
	// Must not block for long — heavy work belongs in RunIteration,
	// triggered by the reactive input-received edge (see BaseModule.Run).
	ProcessInput(ctx context.Context, env domain.Envelope) error

	// AfterRun runs once, asynchronously, after the run-mode loop ends
	// (including on cancellation).
	AfterRun(ctx context.Context, bus *messagebus.Bus) error

	// OnShutdown performs module-specific cleanup during Shutdown.
	OnShutdown(ctx context.Context) error

	// HandleCustomCommand answers any Invoke command character other
	// than the built-in 'S'/'R'/'P'.
	HandleCustomCommand(cmd byte) domain.Device
}

// Module is the full engine-facing surface: Hooks plus the lifecycle
// driver, argument plumbing, and command interface. Concrete modules
// satisfy this by embedding *BaseModule and overriding whichever Hooks
// methods they need.
type Module interface {
	Hooks

	Name() string
	Manifest() domain.ModuleManifest

	SetArguments(args map[string]any)
	GetArgument(key string, def any) any

	SetRunMode(mode domain.RunMode)
	RunMode() domain.RunMode
	CycleTime() time.Duration
	DefaultOutputTopic() string

	Run(ctx context.Context, bus *messagebus.Bus) error
	Shutdown(ctx context.Context) error
	Invoke(cmd byte) domain.Device

	// HandleInput is the fixed bus-callback entry point; it wraps the
	// overridable ProcessInput with error/panic isolation and the
	// reactive input-received edge.
	HandleInput(ctx context.Context, env domain.Envelope) error

	Running() bool
	Completed() bool
	Processing() bool
	PendingInput() bool
}

// Factory constructs a fresh module instance for a manifest. Compiled-in
// module packages supply one of these to internal/registry in their
// init() function.
type Factory func(manifest domain.ModuleManifest) Module
