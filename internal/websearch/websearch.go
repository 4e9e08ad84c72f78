// Package websearch is a client for the Serper search API.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

// #region types

// Result holds a single organic or news result.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"link"`
	Date    string `json:"date,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Place is a local business or point of interest.
type Place struct {
	Title   string  `json:"title"`
	Address string  `json:"address"`
	Rating  float64 `json:"rating"`
}

// KnowledgeGraph is the optional entity panel.
type KnowledgeGraph struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AnswerBox is the optional direct answer.
type AnswerBox struct {
	Answer  string `json:"answer"`
	Snippet string `json:"snippet"`
}

// Response is the union of every optional section Serper may return.
type Response struct {
	Organic   []Result        `json:"organic"`
	News      []Result        `json:"news"`
	Places    []Place         `json:"places"`
	Knowledge *KnowledgeGraph `json:"knowledgeGraph"`
	Answer    *AnswerBox      `json:"answerBox"`
}

// Empty reports whether no section carries data.
func (r *Response) Empty() bool {
	return r == nil || (len(r.Organic) == 0 && len(r.News) == 0 && len(r.Places) == 0 && r.Knowledge == nil && r.Answer == nil)
}

// Config holds web search parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	GL         string // country hint
	HL         string // language hint
	MaxResults int
}

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("web search disabled: no api key")

// #endregion types

// #region client

// Client issues Serper queries.
type Client struct {
	cfg   Config
	fetch *fetch.Fetcher
}

// New creates a client.
func New(cfg Config, f *fetch.Fetcher) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, fetch: f}
}

// Enabled reports whether a key is configured.
func (c *Client) Enabled() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

// MaxResults returns the per-query result cap.
func (c *Client) MaxResults() int { return c.cfg.MaxResults }

// Search runs a general web query.
func (c *Client) Search(ctx context.Context, query string) (*Response, error) {
	return c.query(ctx, "/search", query)
}

// News runs a news query.
func (c *Client) News(ctx context.Context, query string) (*Response, error) {
	return c.query(ctx, "/news", query)
}

// Places runs a local places query.
func (c *Client) Places(ctx context.Context, query string) (*Response, error) {
	return c.query(ctx, "/places", query)
}

func (c *Client) query(ctx context.Context, path, query string) (*Response, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	payload := map[string]string{"q": query, "gl": c.cfg.GL, "hl": c.cfg.HL}
	headers := map[string]string{"X-API-KEY": c.cfg.APIKey}

	var resp Response
	if err := c.fetch.PostJSON(ctx, c.cfg.BaseURL+path, headers, payload, &resp); err != nil {
		return nil, fmt.Errorf("serper %s: %w", path, err)
	}
	return &resp, nil
}

// #endregion client

// #region format

// FormatAsContext renders up to max results under a bracketed header for
// injection into the user turn. Returns "" when there is nothing to show.
func FormatAsContext(header string, resp *Response, max int) string {
	if resp.Empty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", header)

	if resp.Answer != nil && (resp.Answer.Answer != "" || resp.Answer.Snippet != "") {
		fmt.Fprintf(&b, "Respuesta directa: %s\n", firstNonEmpty(resp.Answer.Answer, resp.Answer.Snippet))
	}
	if kg := resp.Knowledge; kg != nil && kg.Title != "" {
		fmt.Fprintf(&b, "Ficha: %s", kg.Title)
		if kg.Type != "" {
			fmt.Fprintf(&b, " (%s)", kg.Type)
		}
		if kg.Description != "" {
			fmt.Fprintf(&b, ": %s", kg.Description)
		}
		b.WriteString("\n")
	}

	results := resp.Organic
	if len(resp.News) > 0 {
		results = resp.News
	}
	for i, r := range limit(results, max) {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.Date != "" {
			fmt.Fprintf(&b, "   Fecha: %s\n", r.Date)
		}
	}
	for i, p := range limitPlaces(resp.Places, max) {
		fmt.Fprintf(&b, "%d. %s, %s", i+1, p.Title, p.Address)
		if p.Rating > 0 {
			fmt.Fprintf(&b, " (valoración %.1f)", p.Rating)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func limit(rs []Result, max int) []Result {
	if max > 0 && len(rs) > max {
		return rs[:max]
	}
	return rs
}

func limitPlaces(ps []Place, max int) []Place {
	if max > 0 && len(ps) > max {
		return ps[:max]
	}
	return ps
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// #endregion format
