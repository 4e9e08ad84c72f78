package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// #region urlkey
// URLKeyProvider calls a generateContent endpoint (Gemini by default) with the
// key embedded as a query parameter.
type URLKeyProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewURLKeyProvider builds a provider for baseURL. A nil client gets a 60s
// timeout client.
func NewURLKeyProvider(baseURL, apiKey string, httpClient *http.Client) *URLKeyProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &URLKeyProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
	}
}

func (p *URLKeyProvider) Kind() Kind         { return KindURLKey }
func (p *URLKeyProvider) Credential() string { return p.apiKey }

// Complete sends the request and concatenates the first candidate's parts.
func (p *URLKeyProvider) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	genReq := generateRequest{Contents: make([]content, 0, len(req.Messages))}
	genReq.GenerationConfig.MaxOutputTokens = req.MaxTokens
	genReq.GenerationConfig.Temperature = req.Temperature
	if req.System != "" {
		genReq.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		genReq.Contents = append(genReq.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(req.Model), url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// url.Error would echo the key-bearing URL into logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("urlkey chat %s: %w", req.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("urlkey chat %s: decode response: %w", req.Model, err)
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("urlkey chat %s: no candidates: %w", req.Model, ErrEmptyReply)
	}
	var sb strings.Builder
	for _, pt := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("urlkey chat %s: %w", req.Model, ErrEmptyReply)
	}
	return text, nil
}
// #endregion urlkey

// #region wire
type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}
// #endregion wire
