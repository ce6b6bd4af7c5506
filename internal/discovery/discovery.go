// Package discovery walks a module directory tree, parses each
// module's manifest, verifies its signature, filters it by the active
// security mode, and builds the module instances the registry knows
// how to construct.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/manifest"
	"github.com/eidolon/eidolon/internal/metrics"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/registry"
	"github.com/eidolon/eidolon/internal/security"
)

// Candidate is one directory under MODULE_DIR that parsed as a valid
// module manifest, along with its verification outcome.
type Candidate struct {
	Manifest domain.ModuleManifest
	Record   domain.VerificationRecord
}

// Prompt is consulted once per non-Verified candidate in
// SecurityModeDefault, mirroring security.Decide's prompt parameter.
type Prompt func(domain.VerificationRecord) bool

// Options controls a discovery pass.
type Options struct {
	SecurityMode    domain.SecurityMode
	AllowUnverified bool
	Prompt          Prompt

	// Parallelism caps how many candidate directories are verified at
	// once; the engine sets it from the pipeline's execution.max_threads.
	// Zero means unbounded.
	Parallelism int
}

// Scan walks moduleDir's immediate subdirectories (each expected to
// contain a module.yaml), verifies every one it finds, and returns the
// candidates accepted under opts' security policy. Rejected candidates
// are logged, not returned, matching the original's "skip with a
// warning" posture rather than aborting the whole engine start.
func Scan(moduleDir string, store *security.SignerStore, opts Options) ([]Candidate, error) {
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return nil, fmt.Errorf("reading module directory %q: %w", moduleDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(moduleDir, e.Name())
		if manifest.Exists(dir) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	var (
		mu         sync.Mutex
		candidates []Candidate
	)
	g, _ := errgroup.WithContext(context.Background())
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}

	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			m, err := manifest.Load(dir)
			if err != nil {
				logging.Op().Warn("skipping module with unparseable manifest", "dir", dir, "error", err)
				return nil
			}

			rec := security.Verify(dir, store)
			metrics.RecordPrometheusVerification(string(rec.Status))
			if !security.Decide(rec, opts.SecurityMode, opts.AllowUnverified, opts.Prompt) {
				logging.Op().Warn("module excluded by security policy", "module", m.Name, "status", rec.Status)
				return nil
			}

			mu.Lock()
			candidates = append(candidates, Candidate{Manifest: m, Record: rec})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Manifest.Name < candidates[j].Manifest.Name })

	if missing := reportMissingRequirements(candidates); len(missing) > 0 {
		for mod, reqs := range missing {
			logging.Op().Warn("module declares requirements this binary cannot install at runtime", "module", mod, "requirements", reqs)
		}
	}

	return candidates, nil
}

// reportMissingRequirements is a stand-in for the original's pip-install
// step: a compiled Go binary cannot add dependencies at runtime, so a
// module's declared Requirements are informational only here — surfaced
// as a warning so an operator can rebuild with the dependency added,
// rather than silently ignored.
func reportMissingRequirements(candidates []Candidate) map[string][]string {
	missing := make(map[string][]string)
	for _, c := range candidates {
		if len(c.Manifest.Requirements) == 0 {
			continue
		}
		names := make([]string, 0, len(c.Manifest.Requirements))
		for _, r := range c.Manifest.Requirements {
			names = append(names, r.Name)
		}
		missing[c.Manifest.Name] = names
	}
	return missing
}

// Build constructs a fresh module.Module instance for a manifest the
// registry recognizes by name. Each pipeline entry gets its own
// instance, so two entries referencing the same module name never share
// state. Returns false (with a warning) for a module.yaml present on
// disk with no corresponding compiled-in package.
func Build(m domain.ModuleManifest) (module.Module, bool) {
	factory, ok := registry.Lookup(m.Name)
	if !ok {
		logging.Op().Warn("no compiled-in factory for discovered module", "module", m.Name)
		return nil, false
	}
	return factory(m), true
}
