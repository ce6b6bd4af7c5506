package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/eidolon/eidolon/internal/domain"
)

// Normalize turns a loosely-typed YAML document (already decoded into
// map[string]any) into the canonical domain.PipelineDefinition shape:
// unwrap a top-level "pipeline:" key, copy module:/name onto name, split
// "input: {name: source}" into input_mappings (dot-qualified sources
// also add a depends_on edge), and normalize outputs into a list of
// {name, mapped?}. Normalizing an already-canonical document is a
// fixed point.
func Normalize(doc map[string]any) (*domain.PipelineDefinition, error) {
	if nested, ok := doc["pipeline"].(map[string]any); ok {
		doc = nested
	}

	def := &domain.PipelineDefinition{}
	if v, ok := doc["name"].(string); ok {
		def.Name = v
	}
	if v, ok := doc["description"].(string); ok {
		def.Description = v
	}

	if rawExec, ok := doc["execution"].(map[string]any); ok {
		if mt, ok := rawExec["max_threads"]; ok {
			n, err := toInt(mt)
			if err != nil {
				return nil, fmt.Errorf("execution.max_threads: %w", err)
			}
			def.Execution.MaxThreads = n
		}
		if to, ok := rawExec["timeout"]; ok {
			d, err := toDuration(to)
			if err != nil {
				return nil, fmt.Errorf("execution.timeout: %w", err)
			}
			def.Execution.Timeout = d
		}
	}

	rawModules, _ := doc["modules"].([]any)
	def.Modules = make([]domain.PipelineModuleSpec, 0, len(rawModules))
	for i, rm := range rawModules {
		m, ok := rm.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("modules[%d]: expected a mapping", i)
		}
		spec, err := normalizeModule(m)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		def.Modules = append(def.Modules, spec)
	}

	return def, nil
}

func normalizeModule(raw map[string]any) (domain.PipelineModuleSpec, error) {
	var spec domain.PipelineModuleSpec

	if v, ok := raw["module"].(string); ok {
		spec.Name = v
	}
	if v, ok := raw["name"].(string); ok && spec.Name == "" {
		spec.Name = v
	}
	if spec.Name == "" {
		return spec, fmt.Errorf("missing module/name field")
	}

	if v, ok := raw["id"].(string); ok && v != "" {
		spec.ID = v
	} else {
		spec.ID = strings.ToLower(spec.Name)
	}

	if v, ok := raw["alias"].(string); ok {
		spec.Alias = v
	}

	spec.RunMode = domain.RunModeOnce
	if v, ok := raw["run_mode"].(string); ok && v != "" {
		spec.RunMode = domain.RunMode(v)
	}

	dependsSet := map[string]bool{}
	if v, ok := raw["depends_on"].([]any); ok {
		for _, d := range v {
			if s, ok := d.(string); ok {
				dependsSet[s] = true
			}
		}
	}

	if v, ok := raw["config"].(map[string]any); ok {
		spec.Config = v
	}

	// Canonical input_mappings, if already given as a list of
	// {name, source_module_id?, source_output} maps.
	if v, ok := raw["input_mappings"].([]any); ok {
		for _, entry := range v {
			em, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			im := domain.InputMapping{}
			if s, ok := em["name"].(string); ok {
				im.Name = s
			}
			if s, ok := em["source_module_id"].(string); ok && s != "" {
				im.SourceModuleID = s
				dependsSet[s] = true
			}
			if s, ok := em["source_output"].(string); ok {
				im.SourceOutput = s
			}
			spec.InputMappings = append(spec.InputMappings, im)
		}
	}

	// Short-form "input: {input_name: source_ref}" sugar.
	if v, ok := raw["input"].(map[string]any); ok {
		for inputName, rawSrc := range v {
			src, ok := rawSrc.(string)
			if !ok {
				continue
			}
			im := domain.InputMapping{Name: inputName}
			if idx := strings.Index(src, "."); idx >= 0 {
				im.SourceModuleID = src[:idx]
				im.SourceOutput = src[idx+1:]
				dependsSet[im.SourceModuleID] = true
			} else {
				im.SourceOutput = src
			}
			spec.InputMappings = append(spec.InputMappings, im)
		}
	}

	for d := range dependsSet {
		spec.DependsOn = append(spec.DependsOn, d)
	}

	if v, ok := raw["outputs"].([]any); ok {
		for _, entry := range v {
			switch o := entry.(type) {
			case string:
				spec.Outputs = append(spec.Outputs, domain.OutputSpec{Name: o})
			case map[string]any:
				if name, ok := o["name"].(string); ok {
					out := domain.OutputSpec{Name: name}
					if mapped, ok := o["mapped"].(string); ok {
						out.Mapped = mapped
					}
					spec.Outputs = append(spec.Outputs, out)
					continue
				}
				// Dict-form sugar: {output_name: mapped_name}.
				for name, mapped := range o {
					out := domain.OutputSpec{Name: name}
					if s, ok := mapped.(string); ok {
						out.Mapped = s
					}
					spec.Outputs = append(spec.Outputs, out)
				}
			}
		}
	}

	return spec, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// toDuration parses a pipeline-level timeout expressed either as a bare
// number of seconds or a Go duration string ("30s", "2m").
func toDuration(v any) (time.Duration, error) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	case string:
		if d, err := time.ParseDuration(n); err == nil {
			return d, nil
		}
		return 0, fmt.Errorf("invalid duration string %q", n)
	default:
		return 0, fmt.Errorf("unsupported timeout value type %T", v)
	}
}
