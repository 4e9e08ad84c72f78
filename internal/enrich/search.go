package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/websearch"
)

// #region variants

type searchKind int

const (
	kindWeb searchKind = iota
	kindNews
)

// SearchVariant is one web-search flavour. Variants share the search group,
// so only the first matching one runs per turn.
type SearchVariant struct {
	keywords
	client   *websearch.Client
	kind     searchKind
	header   string
	query    func(u conversation.Utterance, snap Snapshot) string
	deferred bool
	timeout  time.Duration
	degraded string
}

func (s *SearchVariant) Deferred() bool         { return s.deferred }
func (s *SearchVariant) Timeout() time.Duration { return s.timeout }

func (s *SearchVariant) Enrich(ctx context.Context, u conversation.Utterance, snap Snapshot, _ Effects) (*Fragment, error) {
	q := strings.TrimSpace(s.query(u, snap))
	if q == "" {
		return nil, nil
	}

	var resp *websearch.Response
	var err error
	if s.kind == kindNews {
		resp, err = s.client.News(ctx, q)
	} else {
		resp, err = s.client.Search(ctx, q)
	}
	if err != nil {
		if s.degraded != "" && errors.Is(err, context.DeadlineExceeded) {
			return &Fragment{Text: s.degraded}, nil
		}
		return nil, err
	}
	text := websearch.FormatAsContext(s.header, resp, s.client.MaxResults())
	if text == "" {
		return nil, nil
	}
	return &Fragment{Text: text + "\nResponde solo con estos datos actuales; no cites las fuentes."}, nil
}

func rawQuery(u conversation.Utterance, _ Snapshot) string { return u.Raw }

func withArea(base string, snap Snapshot) string {
	if loc := strings.TrimSpace(snap.Location); loc != "" {
		return base + " " + loc
	}
	return base
}

// NewTraffic reports traffic conditions. It uses its own timeout and falls
// back to a degraded fragment when the search is too slow.
func NewTraffic(c *websearch.Client, timeout time.Duration) *SearchVariant {
	if timeout <= 0 {
		timeout = 9 * time.Second
	}
	return &SearchVariant{
		keywords: keywords{name: "traffic", group: GroupSearch, words: []string{
			"tráfico", "trafico", "tránsito", "transito", "trancón", "trancon", "colas en", "cola en la",
			"cómo está la vía", "como esta la via", "autopista",
		}},
		client: c,
		kind:   kindNews,
		header: "TRÁFICO EN TIEMPO REAL",
		query: func(u conversation.Utterance, snap Snapshot) string {
			return withArea(u.Raw, snap) + " tráfico hoy"
		},
		timeout:  timeout,
		degraded: "[TRÁFICO] El reporte de tráfico no llegó a tiempo. Dile al usuario que no tienes el estado actual de las vías y sugiérele revisar una app de mapas; no inventes el estado del tráfico.",
	}
}

// NewNews searches current news. It is deferred behind price enrichers.
func NewNews(c *websearch.Client) *SearchVariant {
	return &SearchVariant{
		keywords: keywords{name: "news", group: GroupSearch, words: []string{
			"noticia", "última hora", "ultima hora", "qué pasó", "que paso", "qué está pasando",
			"que esta pasando", "actualidad", "sucedió", "sucedio",
		}},
		client:   c,
		kind:     kindNews,
		header:   "NOTICIAS RECIENTES",
		query:    rawQuery,
		deferred: true,
	}
}

// NewCinema searches the local movie listings.
func NewCinema(c *websearch.Client) *SearchVariant {
	return &SearchVariant{
		keywords: keywords{name: "cinema", group: GroupSearch, words: []string{
			"cartelera", "estrenos", "estreno de", "qué dan en el cine", "que dan en el cine",
			"ir al cine", "películas en cine", "peliculas en cine",
		}},
		client: c,
		header: "CARTELERA DE CINE",
		query: func(_ conversation.Utterance, snap Snapshot) string {
			return withArea("cartelera de cine", snap) + " esta semana"
		},
	}
}

// NewSocial searches what is trending on social networks.
func NewSocial(c *websearch.Client) *SearchVariant {
	return &SearchVariant{
		keywords: keywords{name: "social", group: GroupSearch, words: []string{
			"instagram", "tiktok", "twitter", "redes sociales", "viral", "trending", "tendencia en",
		}},
		client: c,
		header: "REDES SOCIALES",
		query: func(u conversation.Utterance, _ Snapshot) string {
			return u.Raw + " redes sociales"
		},
	}
}

// NewGeneral is the catch-all web search for live facts. It is deferred
// behind price enrichers and skipped when one produced a quote.
func NewGeneral(c *websearch.Client) *SearchVariant {
	return &SearchVariant{
		keywords: keywords{name: "general", group: GroupSearch, words: []string{
			"precio", "clima", "temperatura", "pronóstico", "pronostico", "cuánto", "cuanto",
			"busca en internet", "búscame", "buscame", "investiga", "resultado del", "resultados del",
			"quién ganó", "quien gano", "hoy en",
		}},
		client:   c,
		header:   "CONTEXTO DE BÚSQUEDA ACTUALIZADO",
		query:    rawQuery,
		deferred: true,
	}
}

// #endregion variants

// #region biography

var biographyLeads = []string{"quién es", "quien es", "quién fue", "quien fue", "biografía de", "biografia de", "vida de", "biografía", "biografia"}

// Biography fans out three searches about a person and merges them.
type Biography struct {
	keywords
	client *websearch.Client
}

// NewBiography creates the biography enricher.
func NewBiography(c *websearch.Client) *Biography {
	return &Biography{
		keywords: keywords{name: "biography", group: GroupSearch, words: biographyLeads},
		client:   c,
	}
}

func (b *Biography) Enrich(ctx context.Context, u conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	who := after(u.Lower, biographyLeads)
	if who == "" {
		return nil, nil
	}

	queries := []func(context.Context) (*websearch.Response, error){
		func(ctx context.Context) (*websearch.Response, error) { return b.client.Search(ctx, who) },
		func(ctx context.Context) (*websearch.Response, error) { return b.client.Search(ctx, who+" biografía") },
		func(ctx context.Context) (*websearch.Response, error) { return b.client.News(ctx, who+" noticias recientes") },
	}
	results := make([]*websearch.Response, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results[i], errs[i] = q(ctx)
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeResponses(results)
	if merged.Empty() {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	text := websearch.FormatAsContext("BIOGRAFÍA: "+titleCase(who), merged, 2*b.client.MaxResults())
	return &Fragment{Text: text + "\nUsa estos datos y di con claridad si la persona vive o falleció."}, nil
}

// mergeResponses keeps the first knowledge panel and answer, and
// concatenates organic results deduplicated by link. News become organic
// entries so they follow the web results.
func mergeResponses(list []*websearch.Response) *websearch.Response {
	out := &websearch.Response{}
	seen := make(map[string]bool)
	add := func(rs []websearch.Result) {
		for _, r := range rs {
			if r.URL != "" && seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			out.Organic = append(out.Organic, r)
		}
	}
	for _, r := range list {
		if r == nil {
			continue
		}
		if out.Knowledge == nil && r.Knowledge != nil {
			out.Knowledge = r.Knowledge
		}
		if out.Answer == nil && r.Answer != nil {
			out.Answer = r.Answer
		}
		add(r.Organic)
		add(r.News)
	}
	return out
}

// #endregion biography
