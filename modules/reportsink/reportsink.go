// Package reportsink terminates a pipeline: it collects whatever
// reaches its input topic and writes each value as a JSON line to a
// configured report file, or stdout.
package reportsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/registry"
)

func init() {
	registry.Register("report_sink", func(m domain.ModuleManifest) module.Module {
		return New(m)
	})
}

type record struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Source    string    `json:"source,omitempty"`
	Data      any       `json:"data"`
}

// Sink appends one JSON line per received envelope.
type Sink struct {
	*module.BaseModule

	mu      sync.Mutex
	pending []record
	file    *os.File
}

func New(m domain.ModuleManifest) *Sink {
	s := &Sink{}
	s.BaseModule = module.NewBase(m, s)
	return s
}

func (s *Sink) BeforeRun(ctx context.Context, bus *messagebus.Bus) error {
	path, _ := s.GetArgument("path", "").(string)
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	s.file = f
	return nil
}

func (s *Sink) ProcessInput(ctx context.Context, env domain.Envelope) error {
	s.mu.Lock()
	s.pending = append(s.pending, record{
		Timestamp: env.PublishedAt,
		Topic:     env.Topic,
		Source:    env.SourceModule,
		Data:      env.Data,
	})
	s.mu.Unlock()
	return nil
}

func (s *Sink) RunIteration(ctx context.Context, bus *messagebus.Bus) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			logging.Op().Warn("report entry not serializable, dropping", "topic", rec.Topic, "error", err)
			continue
		}
		if s.file != nil {
			if _, err := s.file.Write(append(line, '\n')); err != nil {
				return err
			}
			continue
		}
		fmt.Println(string(line))
	}
	return nil
}

func (s *Sink) OnShutdown(ctx context.Context) error {
	// Flush anything still buffered before closing the file.
	if err := s.RunIteration(ctx, nil); err != nil {
		logging.Op().Warn("flushing report sink failed", "error", err)
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
