// Package llm shapes chat-completion requests for the two provider kinds the
// cascade can call.
package llm

import (
	"context"
	"strings"
)

// #region kind
// Kind identifies how a provider is credentialed.
type Kind string

const (
	KindBearer Kind = "bearer" // credential in an Authorization header
	KindURLKey Kind = "urlkey" // credential in the endpoint query string
)
// #endregion kind

// #region candidate
// Candidate is one entry in a tier's ordered model list.
type Candidate struct {
	Model    string `mapstructure:"model" yaml:"model" json:"model"`
	Provider Kind   `mapstructure:"provider" yaml:"provider" json:"provider"`
}

func (c Candidate) String() string { return string(c.Provider) + "/" + c.Model }
// #endregion candidate

// #region request
// Message is one role-tagged chat message. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// ChatRequest is the provider-independent request shape.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// WithModel returns a shallow copy addressed to model.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	cp := *r
	cp.Model = model
	return &cp
}

// InputChars is the total character count of the system text and messages.
func (r *ChatRequest) InputChars() int {
	n := len([]rune(r.System))
	for _, m := range r.Messages {
		n += len([]rune(m.Content))
	}
	return n
}
// #endregion request

// #region provider
// Provider completes a chat request for one provider kind.
type Provider interface {
	Kind() Kind
	// Credential returns the configured key so the caller can skip a
	// candidate whose credential is missing or implausible without calling it.
	Credential() string
	Complete(ctx context.Context, req *ChatRequest) (string, error)
}

// Registry maps provider kinds to their implementation.
type Registry map[Kind]Provider

// NewRegistry indexes providers by kind.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Kind()] = p
	}
	return r
}

// For returns the provider serving a candidate.
func (r Registry) For(c Candidate) (Provider, bool) {
	p, ok := r[c.Provider]
	return p, ok
}

// CredentialPlausible reports whether key looks like a real credential.
func CredentialPlausible(key string, minLen int) bool {
	key = strings.TrimSpace(key)
	return key != "" && len(key) >= minLen
}
// #endregion provider
