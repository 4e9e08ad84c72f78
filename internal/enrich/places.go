package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
	"github.com/danielpatrickdp/olga/go-assistant/internal/websearch"
)

var placesKeywords = []string{
	"cerca de mí", "cerca de mi", "cerca de aquí", "cerca de aqui",
	"por aquí cerca", "por aqui cerca", "más cercano", "mas cercano",
	"más cercana", "mas cercana",
}

var placeQuestionWords = []string{
	"dónde hay ", "donde hay ", "dónde queda ", "donde queda ", "dónde está ", "donde esta ",
	"busca ", "búscame ", "buscame ", "recomiéndame ", "recomiendame ", "hay ",
}

// Places resolves the user's area and searches nearby points of interest.
type Places struct {
	keywords
	geocode string
	fetcher *fetch.Fetcher
	search  *websearch.Client
}

// NewPlaces creates the places enricher.
func NewPlaces(geocode string, f *fetch.Fetcher, s *websearch.Client) *Places {
	return &Places{
		keywords: keywords{name: "places", words: placesKeywords},
		geocode:  strings.TrimRight(geocode, "/"),
		fetcher:  f,
		search:   s,
	}
}

type reverseResult struct {
	Address struct {
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
	} `json:"address"`
}

// Area names the user's surroundings from coordinates or the profile
// location.
func (p *Places) Area(ctx context.Context, snap Snapshot) (string, error) {
	if snap.Coords == nil {
		return strings.TrimSpace(snap.Location), nil
	}
	var r reverseResult
	endpoint := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%.6f&lon=%.6f", p.geocode, snap.Coords.Lat, snap.Coords.Lon)
	if err := p.fetcher.GetJSONCached(ctx, endpoint, map[string]string{"Accept-Language": "es"}, &r); err != nil {
		if loc := strings.TrimSpace(snap.Location); loc != "" {
			return loc, nil
		}
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	a := r.Address
	var parts []string
	if s := firstOf(a.Suburb, a.Neighbourhood); s != "" {
		parts = append(parts, s)
	}
	if c := firstOf(a.City, a.Town, a.Village, a.State); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, ", "), nil
}

func (p *Places) Enrich(ctx context.Context, u conversation.Utterance, snap Snapshot, _ Effects) (*Fragment, error) {
	area, err := p.Area(ctx, snap)
	if err != nil {
		return nil, err
	}
	if area == "" {
		return &Fragment{Text: "[UBICACIÓN DESCONOCIDA] No conoces la ubicación del usuario. Pídele que active la ubicación o que te diga en qué zona está; no inventes lugares."}, nil
	}

	what := u.Lower
	for _, k := range placesKeywords {
		if i := strings.Index(what, k); i >= 0 {
			what = what[:i] + what[i+len(k):]
		}
	}
	for _, q := range placeQuestionWords {
		if i := strings.Index(what, q); i >= 0 {
			what = what[i+len(q):]
			break
		}
	}
	what = subject(what)
	if what == "" {
		what = "lugares de interés"
	}

	resp, err := p.search.Places(ctx, what+" en "+area)
	if err != nil {
		return nil, err
	}
	text := websearch.FormatAsContext("LUGARES CERCANOS ("+area+")", resp, p.search.MaxResults())
	if text == "" {
		return nil, nil
	}
	return &Fragment{Text: text + "\nRecomienda solo lugares de esta lista."}, nil
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
