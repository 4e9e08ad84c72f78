package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

var marketplaceKeywords = []string{
	"mercado libre", "mercadolibre", "cuánto cuesta", "cuanto cuesta",
	"dónde compro", "donde compro", "dónde consigo", "donde consigo",
}

// Marketplace searches listings on MercadoLibre Venezuela.
type Marketplace struct {
	keywords
	base    string
	fetcher *fetch.Fetcher
	max     int
}

// NewMarketplace creates the marketplace enricher.
func NewMarketplace(base string, f *fetch.Fetcher, max int) *Marketplace {
	if max <= 0 {
		max = 3
	}
	return &Marketplace{
		keywords: keywords{name: "marketplace", words: marketplaceKeywords},
		base:     strings.TrimRight(base, "/"),
		fetcher:  f,
		max:      max,
	}
}

type listingSearch struct {
	Results []struct {
		Title      string  `json:"title"`
		Price      float64 `json:"price"`
		CurrencyID string  `json:"currency_id"`
	} `json:"results"`
}

func (m *Marketplace) Enrich(ctx context.Context, u conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	q := marketQuery(u.Lower)
	if q == "" {
		return nil, nil
	}

	var resp listingSearch
	endpoint := fmt.Sprintf("%s/sites/MLV/search?q=%s&limit=%d", m.base, url.QueryEscape(q), m.max)
	if err := m.fetcher.GetJSONCached(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("mercadolibre search: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[MERCADOLIBRE] Publicaciones para \"%s\":", q)
	for i, r := range resp.Results {
		if i == m.max {
			break
		}
		cur := r.CurrencyID
		if cur == "" {
			cur = "USD"
		}
		fmt.Fprintf(&b, "\n%d. %s: %s %s", i+1, r.Title, amount(r.Price), cur)
	}
	b.WriteString("\nSon precios de referencia de publicaciones; dilo así.")
	return &Fragment{Text: b.String()}, nil
}

var marketplaceNames = []string{"en mercado libre", "en mercadolibre", "de mercado libre", "mercado libre", "mercadolibre"}

var marketplaceLeads = []string{
	"cuánto cuesta", "cuanto cuesta", "dónde compro", "donde compro", "dónde consigo",
	"donde consigo", "búscame", "buscame", "busca", "precio de",
}

// marketQuery extracts the product from "cuánto cuesta un X en mercado libre".
func marketQuery(lower string) string {
	s := lower
	for _, n := range marketplaceNames {
		s = strings.ReplaceAll(s, n, " ")
	}
	s = strings.Join(strings.Fields(s), " ")
	if q := after(s, marketplaceLeads); q != "" {
		return q
	}
	return subject(s)
}
