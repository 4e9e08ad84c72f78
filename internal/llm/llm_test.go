package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "gsk_test_key_0123456789abcdef"

func chatCompletionJSON(content string) string {
	return `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` +
		mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// #region bearer-tests
func TestBearerProvider_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatCompletionJSON("  hola mi amor  "))
	}))
	defer srv.Close()

	p := NewBearerProvider(srv.URL, testKey, srv.Client())
	reply, err := p.Complete(context.Background(), &ChatRequest{
		Model:     "llama-3.1-8b-instant",
		System:    "eres olga",
		Messages:  []Message{{Role: "user", Content: "hola"}, {Role: "assistant", Content: "qué tal"}, {Role: "user", Content: "bien"}},
		MaxTokens: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola mi amor", reply)
	assert.Equal(t, "Bearer "+testKey, gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "llama-3.1-8b-instant", gotBody["model"])
	msgs, _ := gotBody["messages"].([]interface{})
	assert.Len(t, msgs, 4, "system plus three turns")
}

func TestBearerProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := NewBearerProvider(srv.URL, testKey, srv.Client())
	_, err := p.Complete(context.Background(), &ChatRequest{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})
	var se *StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestBearerProvider_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	p := NewBearerProvider(srv.URL, testKey, srv.Client())
	_, err := p.Complete(context.Background(), &ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

// #endregion bearer-tests

// #region urlkey-tests
func TestURLKeyProvider_Success(t *testing.T) {
	var gotKey, gotPath string
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"hola "},{"text":"cariño"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	p := NewURLKeyProvider(srv.URL+"/", testKey, srv.Client())
	reply, err := p.Complete(context.Background(), &ChatRequest{
		Model:       "gemini-2.0-flash",
		System:      "eres olga",
		Messages:    []Message{{Role: "user", Content: "hola"}, {Role: "assistant", Content: "hey"}},
		MaxTokens:   300,
		Temperature: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola cariño", reply)
	assert.Equal(t, testKey, gotKey)
	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, "eres olga", gotReq.SystemInstruction.Parts[0].Text)
	require.Len(t, gotReq.Contents, 2)
	assert.Equal(t, "model", gotReq.Contents[1].Role)
	assert.Equal(t, 300, gotReq.GenerationConfig.MaxOutputTokens)
}

func TestURLKeyProvider_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{"server error", 500, `{"error":"boom"}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == 500
		}},
		{"malformed json", 200, `not json`, func(err error) bool { return err != nil && strings.Contains(err.Error(), "decode") }},
		{"no candidates", 200, `{"candidates":[]}`, func(err error) bool { return errors.Is(err, ErrEmptyReply) }},
		{"blank text", 200, `{"candidates":[{"content":{"parts":[{"text":"  "}]}}]}`, func(err error) bool { return errors.Is(err, ErrEmptyReply) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := NewURLKeyProvider(srv.URL, testKey, srv.Client())
			_, err := p.Complete(context.Background(), &ChatRequest{Model: "g"})
			assert.True(t, tt.wantErr(err), "unexpected error: %v", err)
		})
	}
}

func TestURLKeyProvider_NetworkErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := NewURLKeyProvider(base, testKey, nil)
	_, err := p.Complete(context.Background(), &ChatRequest{Model: "g"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey)
}

func TestURLKeyProvider_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewURLKeyProvider(srv.URL, testKey, srv.Client())
	_, err := p.Complete(ctx, &ChatRequest{Model: "g"})
	assert.ErrorIs(t, err, context.Canceled)
}

// #endregion urlkey-tests

// #region helper-tests
func TestCredentialPlausible(t *testing.T) {
	assert.False(t, CredentialPlausible("", 20))
	assert.False(t, CredentialPlausible("   ", 20))
	assert.False(t, CredentialPlausible("short", 20))
	assert.True(t, CredentialPlausible(testKey, 20))
}

func TestRegistryFor(t *testing.T) {
	reg := NewRegistry(NewURLKeyProvider("http://x", "k", nil))
	_, ok := reg.For(Candidate{Model: "g", Provider: KindURLKey})
	assert.True(t, ok)
	_, ok = reg.For(Candidate{Model: "l", Provider: KindBearer})
	assert.False(t, ok)
}

func TestChatRequestHelpers(t *testing.T) {
	req := &ChatRequest{Model: "a", System: "abcd", Messages: []Message{{Role: "user", Content: "ñandú"}}}
	cp := req.WithModel("b")
	assert.Equal(t, "a", req.Model)
	assert.Equal(t, "b", cp.Model)
	assert.Equal(t, 9, req.InputChars())
}

// #endregion helper-tests
