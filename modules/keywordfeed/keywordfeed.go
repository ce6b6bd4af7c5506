// Package keywordfeed seeds a pipeline with a configured list of
// watch keywords, published once at startup.
package keywordfeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/registry"
)

func init() {
	registry.Register("keyword_feed", func(m domain.ModuleManifest) module.Module {
		return New(m)
	})
}

// Feed publishes its configured keyword list on the default output
// topic. Keywords come from the pipeline config as either a list or a
// comma-separated string.
type Feed struct {
	*module.BaseModule
}

func New(m domain.ModuleManifest) *Feed {
	f := &Feed{}
	f.BaseModule = module.NewBase(m, f)
	return f
}

func (f *Feed) RunIteration(ctx context.Context, bus *messagebus.Bus) error {
	keywords := f.keywords()
	if len(keywords) == 0 {
		return fmt.Errorf("no keywords configured")
	}
	return bus.Publish(ctx, f.DefaultOutputTopic(), keywords)
}

func (f *Feed) keywords() []string {
	switch v := f.GetArgument("keywords", nil).(type) {
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
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
