// Package imagegen builds prompt-addressed image URLs and warms them so the
// frontend finds the image ready.
package imagegen

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
)

// DefaultBaseURL is the Pollinations image endpoint.
const DefaultBaseURL = "https://image.pollinations.ai"

const warmTimeout = 90 * time.Second

// Pollinations generates images by URL.
type Pollinations struct {
	base    string
	fetcher *fetch.Fetcher
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// New creates a generator rooted at base.
func New(base string, f *fetch.Fetcher, log zerolog.Logger) *Pollinations {
	if base == "" {
		base = DefaultBaseURL
	}
	return &Pollinations{base: strings.TrimRight(base, "/"), fetcher: f, log: log}
}

// URL returns the image URL for prompt.
func (p *Pollinations) URL(prompt string) string {
	return p.base + "/prompt/" + url.PathEscape(strings.TrimSpace(prompt)) + "?width=1024&height=1024&nologo=true"
}

// Generate returns the image URL and starts a background request that
// makes the service render it. The warm-up outlives ctx cancellation.
func (p *Pollinations) Generate(ctx context.Context, prompt string) string {
	u := p.URL(prompt)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		wctx, cancel := logging.DetachContextWithTimeout(ctx, warmTimeout)
		defer cancel()
		if _, err := p.fetcher.Get(wctx, u, nil); err != nil {
			p.log.Warn().Err(err).Msg("image warm-up failed")
			return
		}
		p.log.Debug().Str("prompt", prompt).Msg("image ready")
	}()
	return u
}

// Wait blocks until pending warm-ups finish.
func (p *Pollinations) Wait() { p.wg.Wait() }
