package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/pipeline"
)

// dryRun validates the loaded pipeline without executing it: required
// inputs must have a mapping, every referenced module must have been
// discovered and instantiated, and the bus wiring must already have
// succeeded (a wiring failure aborts before reaching here). The
// PASS/FAIL report goes to the configured output sink, or stdout.
func (e *Engine) dryRun() error {
	var problems []string

	manifests := make(map[string]domain.ModuleManifest, len(e.instances))
	instantiated := make(map[string]bool, len(e.instances))
	for _, inst := range e.instances {
		manifests[inst.spec.Name] = inst.manifest
		instantiated[inst.spec.ID] = true
	}

	for _, spec := range e.def.Modules {
		if !instantiated[spec.ID] {
			problems = append(problems, fmt.Sprintf("%s: module %q was not discovered or was excluded", spec.ID, spec.Name))
		}
	}

	problems = append(problems, pipeline.ValidateRequiredInputs(e.def, manifests)...)

	report := renderDryRunReport(e.def.Name, e.def.Modules, problems)
	if err := e.writeReport(report); err != nil {
		return err
	}

	if len(problems) > 0 && !e.opts.IgnoreWarnings {
		return fmt.Errorf("pipeline %q failed validation with %d problem(s)", e.def.Name, len(problems))
	}
	logging.Op().Info("pipeline validated", "pipeline", e.def.Name, "modules", len(e.def.Modules))
	return nil
}

func renderDryRunReport(name string, modules []domain.PipelineModuleSpec, problems []string) string {
	var b strings.Builder
	if len(problems) == 0 {
		fmt.Fprintf(&b, "PASSED: pipeline %q (%d modules)\n", name, len(modules))
	} else {
		fmt.Fprintf(&b, "FAILED: pipeline %q (%d modules, %d problems)\n", name, len(modules), len(problems))
		for _, p := range problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	for _, m := range modules {
		fmt.Fprintf(&b, "  module %s (%s, run_mode=%s)\n", m.ID, m.Name, m.RunMode)
	}
	return b.String()
}

func (e *Engine) writeReport(report string) error {
	if e.opts.OutputPath == "" {
		fmt.Print(report)
		return nil
	}
	if err := os.WriteFile(e.opts.OutputPath, []byte(report), 0644); err != nil {
		return fmt.Errorf("writing validation report to %q: %w", e.opts.OutputPath, err)
	}
	return nil
}
