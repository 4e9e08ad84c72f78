package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// #region bearer
// BearerProvider calls an OpenAI-compatible chat endpoint (Groq by default)
// with the key in the Authorization header.
type BearerProvider struct {
	client openai.Client
	apiKey string
}

// NewBearerProvider builds a provider for baseURL. Retries are disabled so a
// failing candidate hands over to the next one immediately.
func NewBearerProvider(baseURL, apiKey string, httpClient *http.Client) *BearerProvider {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &BearerProvider{client: openai.NewClient(opts...), apiKey: apiKey}
}

func (p *BearerProvider) Kind() Kind         { return KindBearer }
func (p *BearerProvider) Credential() string { return p.apiKey }

// Complete sends the request and returns the first choice's content.
func (p *BearerProvider) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Message
			if body == "" {
				body = http.StatusText(apiErr.StatusCode)
			}
			return "", &StatusError{Code: apiErr.StatusCode, Body: body}
		}
		return "", fmt.Errorf("bearer chat %s: %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("bearer chat %s: no choices: %w", req.Model, ErrEmptyReply)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("bearer chat %s: %w", req.Model, ErrEmptyReply)
	}
	return content, nil
}
// #endregion bearer
