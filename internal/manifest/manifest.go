// Package manifest parses a module's module.yaml into domain.ModuleManifest.
// Parsing is tolerant: an omitted port type defaults to "Any", and a
// requirement's version string may carry an embedded constraint prefix
// (">=1.0", "~=2.3") that gets split out.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/eidolon/eidolon/internal/domain"
)

const filename = "module.yaml"

var constraintPrefix = regexp.MustCompile(`^(>=|<=|==|!=|~=|>|<)`)

// Load reads and defaults <dir>/module.yaml.
func Load(dir string) (domain.ModuleManifest, error) {
	path := filepath.Join(dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ModuleManifest{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var m domain.ModuleManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return domain.ModuleManifest{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	m.Dir = dir

	for i := range m.Inputs {
		if m.Inputs[i].Type == "" {
			m.Inputs[i].Type = "Any"
		}
	}
	for i := range m.Outputs {
		if m.Outputs[i].Type == "" {
			m.Outputs[i].Type = "Any"
		}
	}
	for i := range m.Requirements {
		m.Requirements[i] = splitConstraint(m.Requirements[i])
	}

	if err := validate(m); err != nil {
		return domain.ModuleManifest{}, err
	}
	return m, nil
}

// splitConstraint pulls a leading comparison operator off a requirement's
// Version field into Constraint, e.g. Version: ">=1.0" becomes
// Constraint: ">=", Version: "1.0".
func splitConstraint(r domain.Requirement) domain.Requirement {
	if r.Constraint != "" || r.Version == "" {
		return r
	}
	loc := constraintPrefix.FindString(r.Version)
	if loc == "" {
		return r
	}
	r.Constraint = loc
	r.Version = r.Version[len(loc):]
	return r
}

// validate enforces that input and output names are unique within a
// module.
func validate(m domain.ModuleManifest) error {
	seen := make(map[string]bool, len(m.Inputs))
	for _, in := range m.Inputs {
		if seen[in.Name] {
			return fmt.Errorf("module %q: duplicate input name %q", m.Name, in.Name)
		}
		seen[in.Name] = true
	}
	seen = make(map[string]bool, len(m.Outputs))
	for _, out := range m.Outputs {
		if seen[out.Name] {
			return fmt.Errorf("module %q: duplicate output name %q", m.Name, out.Name)
		}
		seen[out.Name] = true
	}
	return nil
}

// Exists reports whether dir contains a module.yaml, the on-disk marker
// internal/discovery uses to decide a directory is a module.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, filename))
	return err == nil
}
