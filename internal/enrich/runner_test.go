package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/olga/go-assistant/internal/alarm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
)

// #region fakes

type stub struct {
	keywords
	frag     *Fragment
	err      error
	delay    time.Duration
	deferred bool
	calls    atomic.Int32
}

func newStub(name string, frag *Fragment, err error) *stub {
	return &stub{keywords: keywords{name: name, words: []string{name}}, frag: frag, err: err}
}

func (s *stub) Deferred() bool { return s.deferred }

func (s *stub) Enrich(ctx context.Context, _ conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.frag, s.err
}

type effects struct {
	mu      sync.Mutex
	dialed  []string
	pending []string
	alarms  []alarm.Alarm
}

func (e *effects) Dial(n string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialed = append(e.dialed, n)
}

func (e *effects) SetPendingContact(n string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, n)
}

func (e *effects) AddAlarm(a alarm.Alarm) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alarms = append(e.alarms, a)
}

// #endregion fakes

func TestRunnerKeepsSelectionOrderAndDropsFailures(t *testing.T) {
	slow := newStub("slow", &Fragment{Text: "slow"}, nil)
	slow.delay = 30 * time.Millisecond
	cat := Catalogue{
		slow,
		newStub("broken", nil, errors.New("boom")),
		newStub("empty", nil, nil),
		newStub("fast", &Fragment{Text: "fast"}, nil),
	}
	r := NewRunner(cat, RunnerConfig{Timeout: time.Second}, zerolog.Nop())

	frags := r.Run(context.Background(), []string{"slow", "broken", "empty", "fast", "unknown"}, conversation.NewUtterance("x"), Snapshot{}, &effects{})
	require.Len(t, frags, 2)
	assert.Equal(t, "slow", frags[0].Text)
	assert.Equal(t, "slow", frags[0].Source, "source defaults to enricher name")
	assert.Equal(t, "fast", frags[1].Text)
}

func TestRunnerTimeout(t *testing.T) {
	hang := newStub("hang", &Fragment{Text: "late"}, nil)
	hang.delay = time.Second
	r := NewRunner(Catalogue{hang}, RunnerConfig{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	frags := r.Run(context.Background(), []string{"hang"}, conversation.NewUtterance("x"), Snapshot{}, &effects{})
	assert.Empty(t, frags)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRunnerDeferredSkippedAfterAuthoritative(t *testing.T) {
	price := newStub("price", &Fragment{Text: "65000.00", Authoritative: true}, nil)
	general := newStub("general", &Fragment{Text: "search"}, nil)
	general.deferred = true
	r := NewRunner(Catalogue{price, general}, RunnerConfig{}, zerolog.Nop())

	frags := r.Run(context.Background(), []string{"general", "price"}, conversation.NewUtterance("x"), Snapshot{}, &effects{})
	require.Len(t, frags, 1)
	assert.True(t, frags[0].Authoritative)
	assert.Equal(t, int32(0), general.calls.Load())
}

func TestRunnerDeferredRunsWhenPriceFails(t *testing.T) {
	price := newStub("price", nil, errors.New("exchange down"))
	general := newStub("general", &Fragment{Text: "search"}, nil)
	general.deferred = true
	r := NewRunner(Catalogue{price, general}, RunnerConfig{}, zerolog.Nop())

	frags := r.Run(context.Background(), []string{"price", "general"}, conversation.NewUtterance("x"), Snapshot{}, &effects{})
	require.Len(t, frags, 1)
	assert.Equal(t, "search", frags[0].Text)
}

func TestRunnerDisabled(t *testing.T) {
	a := newStub("a", &Fragment{Text: "a"}, nil)
	r := NewRunner(Catalogue{a}, RunnerConfig{Disabled: func(n string) bool { return n == "a" }}, zerolog.Nop())
	assert.Empty(t, r.Run(context.Background(), []string{"a"}, conversation.NewUtterance("a"), Snapshot{}, &effects{}))
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestRunnerCancelled(t *testing.T) {
	hang := newStub("hang", &Fragment{Text: "late"}, nil)
	hang.delay = time.Second
	r := NewRunner(Catalogue{hang}, RunnerConfig{Timeout: 5 * time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	assert.Empty(t, r.Run(ctx, []string{"hang"}, conversation.NewUtterance("x"), Snapshot{}, &effects{}))
}

func TestCataloguePrecedence(t *testing.T) {
	cat := NewCatalogue(Deps{Search: newSearch(t, "http://127.0.0.1:0")})
	cls := orchestrator.NewKeywordClassifier(cat.Triggers()...)

	tests := []struct {
		text string
		want []string
	}{
		{"¿Cuál es el precio de bitcoin?", []string{"crypto", "general"}},
		{"precio del dólar bcv y del bitcoin", []string{"crypto", "general"}},
		{"¿a cómo está el dólar hoy?", []string{"national"}},
		{"¿cuánto vale el oro?", []string{"forex", "general"}},
		{"cómo está el tráfico en la autopista, qué noticias hay", []string{"traffic"}},
		{"¿quién es Shakira?", []string{"biography"}},
		{"últimas noticias, busca en internet", []string{"news"}},
		{"llama a mamá", []string{"contacts"}},
		{"recuérdame en 10 minutos sacar la comida", []string{"alarm"}},
		{"¿te acuerdas de lo que hablamos del viaje?", []string{"recall"}},
		{"hola", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := cls.Classify(conversation.NewUtterance(tt.text), persona.ModeStandard)
			assert.Equal(t, tt.want, got.Enrichers)
		})
	}

	assert.Len(t, cat, 17)
	_, ok := cat.Lookup("tarot")
	assert.True(t, ok)
}

func TestTitleCase_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]string, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				got[i] = titleCase("maría josé pérez")
			}
		}()
	}
	wg.Wait()
	for _, g := range got {
		assert.Equal(t, "María José Pérez", g)
	}
}
