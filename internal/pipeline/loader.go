package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
)

// Info is the lightweight summary List returns for each pipeline file.
type Info struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	ModulesCount int    `json:"modules_count"`
	Filename     string `json:"filename"`
	Error        string `json:"error,omitempty"`
}

// Load reads <dir>/<name>.yaml, normalizes it, and validates the
// dependency graph it induces. It never returns a pipeline with an
// unresolved depends_on id or a cycle.
func Load(dir, name string) (*domain.PipelineDefinition, error) {
	path := filepath.Join(dir, name+".yaml")
	logging.Op().Debug("loading pipeline", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q not found: %w", name, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in pipeline %q: %w", name, err)
	}

	def, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalizing pipeline %q: %w", name, err)
	}
	if def.Name == "" {
		def.Name = name
	}

	if _, err := ValidateDAG(def); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}

	logging.Op().Debug("loaded pipeline", "name", def.Name, "modules", len(def.Modules))
	return def, nil
}

// List enumerates every *.yaml file under dir and returns a summary of
// each, tolerating individual parse failures (they're reported inline
// rather than aborting the whole listing).
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline directory %q: %w", dir, err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		info := Info{Name: name, DisplayName: name, Filename: e.Name()}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			info.Error = err.Error()
			out = append(out, info)
			continue
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			info.Error = err.Error()
			out = append(out, info)
			continue
		}
		if nested, ok := raw["pipeline"].(map[string]any); ok {
			raw = nested
		}
		if v, ok := raw["name"].(string); ok && v != "" {
			info.DisplayName = v
		}
		if v, ok := raw["description"].(string); ok {
			info.Description = v
		}
		if mods, ok := raw["modules"].([]any); ok {
			info.ModulesCount = len(mods)
		}
		out = append(out, info)
	}
	return out, nil
}

// ValidateRequiredInputs implements the dry-run-only check that every
// *required* input declared by a module's manifest has a mapping in the
// pipeline.
func ValidateRequiredInputs(def *domain.PipelineDefinition, manifests map[string]domain.ModuleManifest) []string {
	var errs []string
	for _, m := range def.Modules {
		manifest, ok := manifests[m.Name]
		if !ok {
			continue
		}
		mapped := make(map[string]bool, len(m.InputMappings))
		for _, im := range m.InputMappings {
			mapped[im.Name] = true
		}
		for _, in := range manifest.Inputs {
			if !in.Required {
				continue
			}
			// An unmapped required input still resolves implicitly to a
			// topic named after itself; topic reachability is not
			// knowable here, so presence of a mapping is what's
			// checked.
			if !mapped[in.Name] {
				errs = append(errs, fmt.Sprintf("%s: required input %q has no defined source", m.Name, in.Name))
			}
		}
	}
	return errs
}
