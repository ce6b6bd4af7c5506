// Package keywordmonitor scans incoming text for watch keywords and
// publishes the matches it finds.
package keywordmonitor

import (
	"context"
	"strings"
	"sync"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/registry"
)

func init() {
	registry.Register("keyword_monitor", func(m domain.ModuleManifest) module.Module {
		return New(m)
	})
}

// Monitor takes its keyword set from the latest keywords delivery
// (each one replaces the previous set) and reports which keywords the
// text delivered on its other input contains.
// Runs reactively: work happens in RunIteration after an input edge,
// never inline in ProcessInput.
type Monitor struct {
	*module.BaseModule

	mu       sync.Mutex
	keywords []string
	pending  []string
}

func New(m domain.ModuleManifest) *Monitor {
	mon := &Monitor{}
	mon.BaseModule = module.NewBase(m, mon)
	return mon
}

func (mon *Monitor) ProcessInput(ctx context.Context, env domain.Envelope) error {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	switch env.Topic {
	case "keywords":
		mon.keywords = toStrings(env.Data)
	default:
		if s, ok := env.Data.(string); ok {
			mon.pending = append(mon.pending, s)
		}
	}
	return nil
}

func (mon *Monitor) RunIteration(ctx context.Context, bus *messagebus.Bus) error {
	mon.mu.Lock()
	texts := mon.pending
	mon.pending = nil
	keywords := append([]string(nil), mon.keywords...)
	mon.mu.Unlock()

	if len(texts) == 0 || len(keywords) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(keywords))
	var matches []string
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if !seen[kw] && strings.Contains(lower, strings.ToLower(kw)) {
				seen[kw] = true
				matches = append(matches, kw)
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}
	return bus.Publish(ctx, mon.DefaultOutputTopic(), matches)
}

func toStrings(data any) []string {
	switch v := data.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}
