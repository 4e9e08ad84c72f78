package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

// #region types

// Number accepts JSON numbers and numeric strings.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = Number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

// Position is one open futures position.
type Position struct {
	Symbol   string `json:"symbol"`
	Size     Number `json:"size"`
	PnL      Number `json:"pnl"`
	Entry    Number `json:"entry"`
	Mark     Number `json:"mark"`
	Leverage Number `json:"leverage"`
}

// ROI is the leveraged return on margin in percent.
func (p Position) ROI() float64 {
	if p.Entry == 0 {
		return 0
	}
	dir := 1.0
	if p.Size < 0 {
		dir = -1
	}
	lev := float64(p.Leverage)
	if lev <= 0 {
		lev = 1
	}
	return (float64(p.Mark) - float64(p.Entry)) / float64(p.Entry) * 100 * dir * lev
}

// Holding is one spot balance.
type Holding struct {
	Asset    string `json:"asset"`
	Amount   Number `json:"amount"`
	ValueUSD Number `json:"value_usd"`
}

// PortfolioStatus is the portfolio service response.
type PortfolioStatus struct {
	TotalUSD        Number     `json:"total_usd"`
	PnLToday        Number     `json:"pnl_today"`
	PositionsCount  int        `json:"positions_count"`
	Positions       []Position `json:"positions"`
	Spot            []Holding  `json:"spot"`
	ActiveEndpoints []string   `json:"active_endpoints,omitempty"`
}

// #endregion types

// #region enricher

const (
	portfolioDenied      = "[ACCESO DENEGADO] El usuario actual no está autorizado a ver datos financieros. Dile con amabilidad que esa información es privada y no des ninguna cifra."
	portfolioUnavailable = "[PORTAFOLIO NO DISPONIBLE] El servicio de portafolio no responde. Díselo al usuario tal cual y no inventes cifras."
)

// Portfolio reports the authorized user's trading account.
type Portfolio struct {
	keywords
	primary string
	proxy   string
	fetcher *fetch.Fetcher
}

// NewPortfolio creates the portfolio enricher. proxy may be empty.
func NewPortfolio(primary, proxy string, f *fetch.Fetcher) *Portfolio {
	return &Portfolio{
		keywords: keywords{name: "portfolio", words: []string{
			"portafolio", "portfolio", "mis posiciones", "mi balance", "mis inversiones",
			"mi cuenta de binance", "mis ganancias", "cómo va el bot", "como va el bot",
		}},
		primary: primary,
		proxy:   proxy,
		fetcher: f,
	}
}

func (p *Portfolio) Enrich(ctx context.Context, _ conversation.Utterance, snap Snapshot, _ Effects) (*Fragment, error) {
	if !snap.Authorized {
		return &Fragment{Text: portfolioDenied}, nil
	}
	status, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return &Fragment{Text: portfolioUnavailable}, nil
	}
	return &Fragment{Text: FormatPortfolio(status)}, nil
}

func (p *Portfolio) fetch(ctx context.Context) (*PortfolioStatus, error) {
	var errs []error
	for _, endpoint := range []string{p.primary, p.proxy} {
		if endpoint == "" {
			continue
		}
		var st PortfolioStatus
		if err := p.fetcher.GetJSON(ctx, endpoint, nil, &st); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return &st, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("portfolio: no endpoint configured")
	}
	return nil, fmt.Errorf("portfolio: %w", errs[len(errs)-1])
}

// FormatPortfolio renders the status with two-decimal amounts.
func FormatPortfolio(st *PortfolioStatus) string {
	var b strings.Builder
	b.WriteString("[PORTAFOLIO DEL USUARIO]")
	fmt.Fprintf(&b, " Balance total: %s USD.", amount(float64(st.TotalUSD)))
	fmt.Fprintf(&b, " PnL de hoy: %s USD.", amount(float64(st.PnLToday)))
	count := st.PositionsCount
	if count == 0 {
		count = len(st.Positions)
	}
	fmt.Fprintf(&b, " Posiciones abiertas: %d.", count)
	for _, pos := range st.Positions {
		fmt.Fprintf(&b, " %s: tamaño %s, entrada %s, actual %s, PnL %s USD, ROI %s%%.",
			pos.Symbol,
			strconv.FormatFloat(math.Abs(float64(pos.Size)), 'f', -1, 64),
			amount(float64(pos.Entry)), amount(float64(pos.Mark)),
			amount(float64(pos.PnL)), amount(pos.ROI()))
	}
	if len(st.Spot) > 0 {
		b.WriteString(" Spot:")
		for i, h := range st.Spot {
			sep := ","
			if i == len(st.Spot)-1 {
				sep = "."
			}
			fmt.Fprintf(&b, " %s %s (%s USD)%s", strconv.FormatFloat(float64(h.Amount), 'f', -1, 64), h.Asset, amount(float64(h.ValueUSD)), sep)
		}
	}
	b.WriteString(" Comunica estas cifras tal cual, con dos decimales.")
	return b.String()
}

// #endregion enricher
