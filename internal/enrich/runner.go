package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/metrics"
)

// RunnerConfig bounds enricher execution.
type RunnerConfig struct {
	Timeout  time.Duration
	Disabled func(name string) bool
}

// Runner executes selected enrichers for a turn.
type Runner struct {
	catalogue Catalogue
	cfg       RunnerConfig
	log       zerolog.Logger
}

// NewRunner creates a runner over cat.
func NewRunner(cat Catalogue, cfg RunnerConfig, log zerolog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &Runner{catalogue: cat, cfg: cfg, log: log}
}

// Catalogue returns the enrichers the runner knows.
func (r *Runner) Catalogue() Catalogue { return r.catalogue }

// Run executes the named enrichers and returns their fragments in selection
// order. Immediate enrichers run concurrently; deferred ones run afterwards
// and only when no authoritative fragment was produced.
func (r *Runner) Run(ctx context.Context, names []string, u conversation.Utterance, snap Snapshot, fx Effects) []Fragment {
	var immediate, later []Enricher
	for _, name := range names {
		if r.cfg.Disabled != nil && r.cfg.Disabled(name) {
			metrics.EnricherRuns.WithLabelValues(name, "disabled").Inc()
			continue
		}
		e, ok := r.catalogue.Lookup(name)
		if !ok {
			r.log.Warn().Str("enricher", name).Msg("unknown enricher selected")
			continue
		}
		if d, ok := e.(deferrer); ok && d.Deferred() {
			later = append(later, e)
		} else {
			immediate = append(immediate, e)
		}
	}

	frags := r.runAll(ctx, immediate, u, snap, fx)
	if len(later) == 0 || ctx.Err() != nil {
		return frags
	}
	for _, f := range frags {
		if f.Authoritative {
			for _, e := range later {
				metrics.EnricherRuns.WithLabelValues(e.Name(), "skipped").Inc()
				r.log.Debug().Str("enricher", e.Name()).Msg("skipped: authoritative fragment present")
			}
			return frags
		}
	}
	return append(frags, r.runAll(ctx, later, u, snap, fx)...)
}

func (r *Runner) runAll(ctx context.Context, list []Enricher, u conversation.Utterance, snap Snapshot, fx Effects) []Fragment {
	if len(list) == 0 {
		return nil
	}
	results := make([]*Fragment, len(list))
	var g errgroup.Group
	for i, e := range list {
		g.Go(func() error {
			results[i] = r.runOne(ctx, e, u, snap, fx)
			return nil
		})
	}
	_ = g.Wait()

	var out []Fragment
	for _, f := range results {
		if f != nil && f.Text != "" {
			out = append(out, *f)
		}
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, e Enricher, u conversation.Utterance, snap Snapshot, fx Effects) *Fragment {
	timeout := r.cfg.Timeout
	if t, ok := e.(timeouter); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	frag, err := e.Enrich(ectx, u, snap, fx)
	log := r.log.With().Str("enricher", e.Name()).Dur("latency", time.Since(start)).Logger()

	switch {
	case err != nil && ctx.Err() != nil:
		log.Debug().Msg("cancelled")
		return nil
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		metrics.EnricherRuns.WithLabelValues(e.Name(), "timeout").Inc()
		log.Warn().Dur("timeout", timeout).Msg("enricher timed out")
		return nil
	case err != nil:
		metrics.EnricherRuns.WithLabelValues(e.Name(), "error").Inc()
		log.Warn().Err(err).Msg("enricher failed")
		return nil
	case frag == nil || frag.Text == "":
		metrics.EnricherRuns.WithLabelValues(e.Name(), "empty").Inc()
		log.Debug().Msg("no fragment")
		return nil
	}
	metrics.EnricherRuns.WithLabelValues(e.Name(), "fragment").Inc()
	log.Debug().Bool("authoritative", frag.Authoritative).Msg("fragment produced")
	if frag.Source == "" {
		frag.Source = e.Name()
	}
	return frag
}
