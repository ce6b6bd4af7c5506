// Package domain holds the value types shared across the runtime: module
// manifests, pipeline definitions, bus envelopes, and verification results.
package domain

import "time"

// RunMode controls how a module's Run loop is driven by the engine.
type RunMode string

const (
	RunModeOnce      RunMode = "once"
	RunModeLoop      RunMode = "loop"
	RunModeReactive  RunMode = "reactive"
	RunModeOnTrigger RunMode = "on_trigger" // reserved; behaves like RunModeLoop
)

// ModuleManifest is the parsed, defaulted contents of a module's module.yaml.
type ModuleManifest struct {
	Name         string        `yaml:"name" json:"name"`
	Alias        string        `yaml:"alias,omitempty" json:"alias,omitempty"`
	Creator      string        `yaml:"creator,omitempty" json:"creator,omitempty"`
	Version      string        `yaml:"version,omitempty" json:"version,omitempty"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Repository   string        `yaml:"repository,omitempty" json:"repository,omitempty"`
	Runtime      RuntimeSpec   `yaml:"runtime" json:"runtime"`
	Requirements []Requirement `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	Inputs       []PortSpec    `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs      []PortSpec    `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	// Dir is the absolute path to the module's directory on disk. Not
	// part of the YAML; filled in by the loader.
	Dir string `yaml:"-" json:"-"`
}

// RuntimeSpec is the manifest's runtime block. Main is kept as declared;
// the compiled-in module is looked up by the manifest's Name (see
// internal/registry), not by Main.
type RuntimeSpec struct {
	Main  string   `yaml:"main" json:"main"`
	Tests []string `yaml:"tests,omitempty" json:"tests,omitempty"`
}

// Requirement is a single package dependency a module's manifest declares.
// Version strings with an embedded constraint prefix (">=1.0", "~=2") are
// split by internal/manifest into Constraint + Version at load time.
type Requirement struct {
	Name       string `yaml:"name" json:"name"`
	Version    string `yaml:"version,omitempty" json:"version,omitempty"`
	Constraint string `yaml:"constraint,omitempty" json:"constraint,omitempty"`
}

// PortSpec describes a single named input or output of a module. Type
// defaults to "Any" when omitted from the manifest.
type PortSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// PipelineDefinition is the normalized, canonical-form pipeline manifest
// after short-form expansion (see internal/pipeline).
type PipelineDefinition struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Execution   ExecutionSpec       `yaml:"execution,omitempty" json:"execution,omitempty"`
	Modules     []PipelineModuleSpec `yaml:"modules" json:"modules"`
}

// ExecutionSpec controls engine resource allocation and pacing for a
// pipeline run.
type ExecutionSpec struct {
	MaxThreads int           `yaml:"max_threads,omitempty" json:"max_threads,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// PipelineModuleSpec is a single wired module instance within a pipeline.
type PipelineModuleSpec struct {
	ID            string         `yaml:"id" json:"id"`
	Name          string         `yaml:"name" json:"name"`
	Alias         string         `yaml:"alias,omitempty" json:"alias,omitempty"`
	Config        map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	RunMode       RunMode        `yaml:"run_mode,omitempty" json:"run_mode,omitempty"`
	DependsOn     []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	InputMappings []InputMapping `yaml:"input_mappings,omitempty" json:"input_mappings,omitempty"`
	Outputs       []OutputSpec   `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// InputMapping binds a module's named input to another module's output
// topic, e.g. "enrich.domain" meaning module "enrich", output "domain".
type InputMapping struct {
	Name           string `yaml:"name" json:"name"`
	SourceModuleID string `yaml:"source_module_id" json:"source_module_id"`
	SourceOutput   string `yaml:"source_output" json:"source_output"`
}

// OutputSpec is a declared output of a pipeline module, optionally
// re-mapped (aliased) to a different public topic name.
type OutputSpec struct {
	Name   string `yaml:"name" json:"name"`
	Mapped string `yaml:"mapped,omitempty" json:"mapped,omitempty"`
}

// Envelope carries a single unit of data published on the bus. The
// trace fields carry the publisher's W3C trace context so work a
// subscriber defers past the synchronous delivery can still parent
// onto the publishing span.
type Envelope struct {
	Topic         string    `json:"topic"`
	Data          any       `json:"data"`
	DataType      string    `json:"data_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	SourceModule  string    `json:"source_module,omitempty"`
	TraceParent   string    `json:"traceparent,omitempty"`
	TraceState    string    `json:"tracestate,omitempty"`
}

// Device is the response shape for the module command interface.
type Device struct {
	Name     string   `json:"name"`
	Firmware string   `json:"firmware,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SecurityMode controls how the engine handles modules that are not
// verified against a trusted signer.
type SecurityMode string

const (
	SecurityModeParanoid   SecurityMode = "paranoid"
	SecurityModeDefault    SecurityMode = "default"
	SecurityModePermissive SecurityMode = "permissive"
)

// VerificationStatus is the outcome of checking a module directory's
// signature against the trusted signer store. There is no separate
// "signed but untrusted" status: a signature that does not verify under
// any trusted signer is Invalid, full stop.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "verified"
	VerificationUnsigned VerificationStatus = "unsigned"
	VerificationInvalid  VerificationStatus = "invalid"
	VerificationError    VerificationStatus = "error"
)

// VerificationRecord is the cached result of verifying one module directory,
// computed once per engine start and kept for the rest of the run.
type VerificationRecord struct {
	ModulePath string
	Status     VerificationStatus
	SignerID   string
	Hash       string
}
