package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

func newServer(t *testing.T, path, body string) (*httptest.Server, *map[string]string) {
	t.Helper()
	got := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("expected path %s, got %s", path, r.URL.Path)
		}
		got["key"] = r.Header.Get("X-API-KEY")
		data, _ := io.ReadAll(r.Body)
		var payload map[string]string
		json.Unmarshal(data, &payload)
		for k, v := range payload {
			got[k] = v
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newClient(srv *httptest.Server, key string) *Client {
	return New(Config{BaseURL: srv.URL, APIKey: key, GL: "ve", HL: "es", MaxResults: 3}, fetch.New(fetch.DefaultConfig(), srv.Client()))
}

func TestSearch_SendsLocaleAndKey(t *testing.T) {
	srv, got := newServer(t, "/search", `{"organic":[{"title":"A","snippet":"sa","link":"https://a"}]}`)
	c := newClient(srv, "serper-key")

	resp, err := c.Search(context.Background(), "clima en caracas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Organic) != 1 || resp.Organic[0].URL != "https://a" {
		t.Fatalf("unexpected response %+v", resp)
	}
	g := *got
	if g["key"] != "serper-key" || g["q"] != "clima en caracas" || g["gl"] != "ve" || g["hl"] != "es" {
		t.Errorf("unexpected request %v", g)
	}
}

func TestNewsAndPlacesPaths(t *testing.T) {
	srv, _ := newServer(t, "/news", `{"news":[{"title":"N","snippet":"s","date":"hace 1 hora"}]}`)
	resp, err := newClient(srv, "k").News(context.Background(), "x")
	if err != nil || len(resp.News) != 1 {
		t.Fatalf("news: %+v %v", resp, err)
	}

	srv2, _ := newServer(t, "/places", `{"places":[{"title":"Café","address":"Altamira","rating":4.5}]}`)
	resp, err = newClient(srv2, "k").Places(context.Background(), "x")
	if err != nil || len(resp.Places) != 1 || resp.Places[0].Rating != 4.5 {
		t.Fatalf("places: %+v %v", resp, err)
	}
}

func TestDisabledWithoutKey(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"}, fetch.New(fetch.DefaultConfig(), nil))
	if c.Enabled() {
		t.Fatal("expected disabled")
	}
	if _, err := c.Search(context.Background(), "x"); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if c.MaxResults() != 3 {
		t.Errorf("expected default max results 3, got %d", c.MaxResults())
	}
}

func TestFormatAsContext_MultipleResults(t *testing.T) {
	resp := &Response{
		Organic: []Result{
			{Title: "Title A", Snippet: "Snippet A"},
			{Title: "Title B", Snippet: "Snippet B"},
			{Title: "Title C"},
			{Title: "Title D"},
		},
		Knowledge: &KnowledgeGraph{Title: "Simón Bolívar", Type: "Militar", Description: "Libertador"},
	}
	out := FormatAsContext("BÚSQUEDA", resp, 3)
	for _, want := range []string{"[BÚSQUEDA]", "1. Title A", "   Snippet A", "3. Title C", "Ficha: Simón Bolívar (Militar): Libertador"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Title D") {
		t.Error("expected results capped at 3")
	}
}

func TestFormatAsContext_NewsPreferredAndPlaces(t *testing.T) {
	resp := &Response{
		Organic: []Result{{Title: "organic"}},
		News:    []Result{{Title: "news", Date: "ayer"}},
		Places:  []Place{{Title: "Cine", Address: "Sambil", Rating: 4.2}},
	}
	out := FormatAsContext("X", resp, 3)
	if strings.Contains(out, "organic") || !strings.Contains(out, "Fecha: ayer") {
		t.Errorf("expected news in place of organic:\n%s", out)
	}
	if !strings.Contains(out, "Cine, Sambil (valoración 4.2)") {
		t.Errorf("missing place line:\n%s", out)
	}
}

func TestFormatAsContext_Empty(t *testing.T) {
	if out := FormatAsContext("X", nil, 3); out != "" {
		t.Errorf("expected empty string for nil response, got %q", out)
	}
	if out := FormatAsContext("X", &Response{}, 3); out != "" {
		t.Errorf("expected empty string for empty response, got %q", out)
	}
}
