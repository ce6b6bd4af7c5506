// Package webfetch retrieves a configured URL each cycle and publishes
// the page body for downstream text processing.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/messagebus"
	"github.com/eidolon/eidolon/internal/module"
	"github.com/eidolon/eidolon/internal/registry"
)

func init() {
	registry.Register("web_fetch", func(m domain.ModuleManifest) module.Module {
		return New(m)
	})
}

const maxBodyBytes = 4 << 20

// Fetcher downloads one URL per iteration. The HTTP round trip runs on
// the engine's worker pool so a slow origin never stalls the scheduler.
type Fetcher struct {
	*module.BaseModule
	client *http.Client
}

func New(m domain.ModuleManifest) *Fetcher {
	f := &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
	f.BaseModule = module.NewBase(m, f)
	// Crawling paces faster than the generic default while active.
	f.SetCycleTime(500 * time.Millisecond)
	return f
}

func (f *Fetcher) RunIteration(ctx context.Context, bus *messagebus.Bus) error {
	url, _ := f.GetArgument("url", "").(string)
	if url == "" {
		return fmt.Errorf("no url configured")
	}

	body, err := f.RunBlocking(ctx, func() (any, error) {
		text, err := f.fetch(ctx, url)
		return text, err
	})
	if err != nil {
		return err
	}
	return bus.Publish(ctx, f.DefaultOutputTopic(), body)
}

func (f *Fetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *Fetcher) OnShutdown(ctx context.Context) error {
	f.client.CloseIdleConnections()
	return nil
}
