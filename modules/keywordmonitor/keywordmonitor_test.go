package keywordmonitor

import (
	"context"
	"testing"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/translator"
)

func newMonitor() *Monitor {
	return New(domain.ModuleManifest{
		Name: "keyword_monitor",
		Outputs: []domain.PortSpec{
			{Name: "matches", Type: "list"},
		},
	})
}

func TestMonitorReportsMatches(t *testing.T) {
	mon := newMonitor()
	ctx := context.Background()

	mon.ProcessInput(ctx, domain.Envelope{Topic: "keywords", Data: []string{"breach", "leak"}})
	mon.ProcessInput(ctx, domain.Envelope{Topic: "page_text", Data: "A major data BREACH was reported today."})

	bus := messagebus.New(translator.New("", 8), false)
	var got any
	bus.Subscribe("matches", "test", func(ctx context.Context, env domain.Envelope) error {
		got = env.Data
		return nil
	}, "")

	if err := mon.RunIteration(ctx, bus); err != nil {
		t.Fatalf("iteration: %v", err)
	}

	matches, ok := got.([]string)
	if !ok || len(matches) != 1 || matches[0] != "breach" {
		t.Fatalf("matches = %v, want [breach]", got)
	}
}

func TestMonitorNoMatchPublishesNothing(t *testing.T) {
	mon := newMonitor()
	ctx := context.Background()

	mon.ProcessInput(ctx, domain.Envelope{Topic: "keywords", Data: []string{"breach"}})
	mon.ProcessInput(ctx, domain.Envelope{Topic: "page_text", Data: "nothing interesting here"})

	// No subscribers: a publish would fail, so a nil error proves
	// nothing was published.
	bus := messagebus.New(translator.New("", 8), false)
	if err := mon.RunIteration(ctx, bus); err != nil {
		t.Fatalf("iteration published unexpectedly: %v", err)
	}
}

func TestMonitorIdleWithoutText(t *testing.T) {
	mon := newMonitor()
	ctx := context.Background()

	mon.ProcessInput(ctx, domain.Envelope{Topic: "keywords", Data: []string{"breach"}})

	bus := messagebus.New(translator.New("", 8), false)
	if err := mon.RunIteration(ctx, bus); err != nil {
		t.Fatalf("iteration with no pending text: %v", err)
	}
}

func TestMonitorDrainsPendingTexts(t *testing.T) {
	mon := newMonitor()
	ctx := context.Background()

	mon.ProcessInput(ctx, domain.Envelope{Topic: "keywords", Data: []string{"breach"}})
	mon.ProcessInput(ctx, domain.Envelope{Topic: "page_text", Data: "breach one"})

	bus := messagebus.New(translator.New("", 8), false)
	bus.Subscribe("matches", "test", func(ctx context.Context, env domain.Envelope) error { return nil }, "")

	if err := mon.RunIteration(ctx, bus); err != nil {
		t.Fatalf("first iteration: %v", err)
	}
	// Second iteration has nothing left to scan.
	if err := mon.RunIteration(ctx, bus); err != nil {
		t.Fatalf("second iteration should be idle: %v", err)
	}
}

func TestToStrings(t *testing.T) {
	if got := toStrings([]any{"a", 1, "b"}); len(got) != 2 {
		t.Fatalf("mixed list = %v", got)
	}
	if got := toStrings("a, b"); len(got) != 2 || got[1] != "b" {
		t.Fatalf("comma string = %v", got)
	}
	if got := toStrings(42); got != nil {
		t.Fatalf("unsupported type = %v, want nil", got)
	}
}
