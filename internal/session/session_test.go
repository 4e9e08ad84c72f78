package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/olga/go-assistant/internal/alarm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/contacts"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/enrich"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
	"github.com/danielpatrickdp/olga/go-assistant/internal/imagegen"
	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

// #region helpers

const goodKey = "key_0123456789abcdefghij"

var fixedNow = time.Date(2026, 10, 14, 10, 30, 0, 0, time.Local)

type replyFunc func(ctx context.Context, req *llm.ChatRequest) (string, error)

// fakeProvider answers by model name and records every request.
type fakeProvider struct {
	replies map[string]replyFunc

	mu   sync.Mutex
	reqs []*llm.ChatRequest
}

func (p *fakeProvider) Kind() llm.Kind     { return llm.KindBearer }
func (p *fakeProvider) Credential() string { return goodKey }

func (p *fakeProvider) Complete(ctx context.Context, req *llm.ChatRequest) (string, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	fn, ok := p.replies[req.Model]
	if !ok {
		return "", errors.New("unscripted model " + req.Model)
	}
	return fn(ctx, req)
}

func (p *fakeProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.ChatRequest(nil), p.reqs...)
}

func say(s string) replyFunc {
	return func(context.Context, *llm.ChatRequest) (string, error) { return s, nil }
}

func status(code int) replyFunc {
	return func(context.Context, *llm.ChatRequest) (string, error) {
		return "", &llm.StatusError{Code: code, Body: "x"}
	}
}

type fixture struct {
	sess     *Session
	rec      *Recorder
	store    *state.Store
	provider *fakeProvider
	tmpl     *persona.Templates
}

type setup struct {
	opts      Options
	catalogue enrich.Catalogue
	memory    bool
	images    *imagegen.Pollinations
}

func newFixture(t *testing.T, replies map[string]replyFunc, cfg setup) *fixture {
	t.Helper()
	store, err := state.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tmpl, err := persona.LoadTemplates()
	require.NoError(t, err)

	provider := &fakeProvider{replies: replies}
	cands := []llm.Candidate{
		{Model: "m1", Provider: llm.KindBearer},
		{Model: "m2", Provider: llm.KindBearer},
		{Model: "m3", Provider: llm.KindBearer},
	}
	tiers := config.TiersConfig{Default: cands, Elevated: cands, Political: cands, Technical: cands}

	deps := Deps{
		Store:      store,
		Classifier: orchestrator.NewKeywordClassifier(cfg.catalogue.Triggers()...),
		Templates:  tmpl,
		Assembler:  persona.NewAssembler(tmpl, 15),
		Executor: orchestrator.NewExecutor(llm.NewRegistry(provider),
			orchestrator.ExecutorConfig{MinKeyLength: 20}, nil, zerolog.Nop()),
		Tiers: func() config.TiersConfig { return tiers },
		Log:   zerolog.Nop(),
		Now:   func() time.Time { return fixedNow },
	}
	if len(cfg.catalogue) > 0 {
		deps.Enrichers = enrich.NewRunner(cfg.catalogue, enrich.RunnerConfig{Timeout: time.Second}, zerolog.Nop())
	}
	if cfg.memory {
		mem, err := memory.NewSQLiteStore(store.DB())
		require.NoError(t, err)
		deps.Memory = mem
	}
	deps.Images = cfg.images
	if cfg.opts.AdultAge == 0 {
		cfg.opts.AdultAge = 18
	}

	rec := &Recorder{}
	sess, err := New(context.Background(), deps, cfg.opts, rec)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return &fixture{sess: sess, rec: rec, store: store, provider: provider, tmpl: tmpl}
}

func assistantDisplays(r *Recorder) []Event {
	var out []Event
	for _, e := range r.Kind(EventDisplay) {
		if e.Role == string(conversation.RoleAssistant) {
			out = append(out, e)
		}
	}
	return out
}

func birth(year int) *time.Time {
	b := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return &b
}

// #endregion helpers

// #region cascade

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Hola, ¿en qué te ayudo?")}, setup{memory: true})
	ctx := context.Background()

	res, err := f.sess.Handle(ctx, "hola")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Outcome)
	assert.Equal(t, "m1", res.Candidate.Model)
	assert.Equal(t, orchestrator.TierDefault, res.Tier)
	assert.Equal(t, "Hola, ¿en qué te ayudo?", res.Reply)

	displays := assistantDisplays(f.rec)
	require.Len(t, displays, 1)
	assert.Equal(t, "m1", displays[0].Model)
	speaks := f.rec.Kind(EventSpeak)
	require.Len(t, speaks, 1)
	assert.Equal(t, "OLGA", speaks[0].Voice)

	events := f.rec.Events()
	last := events[len(events)-1]
	prev := events[len(events)-2]
	assert.Equal(t, EventSpeak, last.Kind)
	assert.Equal(t, EventStopSpeech, prev.Kind, "speak is preceded by stop_speech")

	assert.Len(t, f.sess.Turns(), 2)
	stored, err := f.store.LoadTurns(ctx, anonymousTag, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Greater(t, f.sess.Tokens().Count, 0)

	f.sess.Wait()
	entries, err := f.sess.deps.Memory.Query(ctx, memory.Query{UserTag: anonymousTag})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "Usuario: hola")

	prov, _, err := logging.RecentTurns(ctx, f.store.DB(), anonymousTag, 10)
	require.NoError(t, err)
	require.Len(t, prov, 1)
	assert.Equal(t, "success", prov[0].Outcome)
	assert.Equal(t, "m1", prov[0].Model)
}

func TestHandleFallsBackAcrossStatusErrors(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{
		"m1": status(401),
		"m2": status(500),
		"m3": say("Respuesta de respaldo."),
	}, setup{})

	res, err := f.sess.Handle(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, "m3", res.Candidate.Model)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, orchestrator.AttemptFailed, res.Attempts[0].Outcome)
	assert.Equal(t, orchestrator.AttemptFailed, res.Attempts[1].Outcome)
	assert.Equal(t, orchestrator.AttemptSuccess, res.Attempts[2].Outcome)
	assert.Len(t, assistantDisplays(f.rec), 1)
}

func TestHandleExhausted(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{
		"m1": status(401),
		"m2": status(500),
		"m3": say("   "),
	}, setup{})

	res, err := f.sess.Handle(context.Background(), "hola")
	var exhausted *orchestrator.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "exhausted", res.Outcome)

	speaks := f.rec.Kind(EventSpeak)
	require.Len(t, speaks, 1)
	assert.Equal(t, connectionApology, speaks[0].Text)
	require.Len(t, f.rec.Kind(EventError), 1)

	displays := assistantDisplays(f.rec)
	require.Len(t, displays, 1)
	assert.True(t, strings.HasPrefix(displays[0].Text, "Error: "))

	turns := f.sess.Turns()
	require.Len(t, turns, 2)
	assert.True(t, strings.HasPrefix(turns[1].Text, "Error: "))
}

func TestHandleEmpty(t *testing.T) {
	f := newFixture(t, nil, setup{})
	_, err := f.sess.Handle(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
	assert.Empty(t, f.rec.Events())
}

func TestHistoryWindowBound(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Entendido.")}, setup{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := f.sess.Handle(ctx, "cuéntame algo")
		require.NoError(t, err)
	}
	reqs := f.provider.Requests()
	require.Len(t, reqs, 20)
	assert.Len(t, reqs[19].Messages, 16, "15 prior turns plus the current one")
	assert.Len(t, f.sess.Turns(), 40)
}

func TestLogCap(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Vale.")}, setup{opts: Options{LogCap: 6}})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.sess.Handle(ctx, "otra cosa")
		require.NoError(t, err)
	}
	assert.Len(t, f.sess.Turns(), 6)
	stored, err := f.store.LoadTurns(ctx, anonymousTag, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

// #endregion cascade

// #region supersede

// blockingFirst blocks the first call until it is cancelled and answers
// later calls with reply.
func blockingFirst(started chan<- struct{}, reply string) replyFunc {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context, _ *llm.ChatRequest) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return reply, nil
	}
}

func TestNewUtteranceSupersedesInFlightTurn(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, map[string]replyFunc{"m1": blockingFirst(started, "respuesta B")}, setup{})
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() {
		_, err := f.sess.Handle(ctx, "pregunta A")
		errA <- err
	}()
	<-started

	res, err := f.sess.Handle(ctx, "pregunta B")
	require.NoError(t, err)
	assert.Equal(t, "respuesta B", res.Reply)
	require.ErrorIs(t, <-errA, ErrSuperseded)

	displays := assistantDisplays(f.rec)
	require.Len(t, displays, 1, "the superseded turn emits no reply")
	assert.Equal(t, "respuesta B", displays[0].Text)
	assert.Len(t, f.rec.Kind(EventSpeak), 1)
	assert.Len(t, f.provider.Requests(), 2, "no fallback attempt for the cancelled turn")
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, map[string]replyFunc{"m1": blockingFirst(started, "nunca")}, setup{})

	errA := make(chan error, 1)
	go func() {
		_, err := f.sess.Handle(context.Background(), "pregunta larga")
		errA <- err
	}()
	<-started
	f.sess.Cancel()

	require.ErrorIs(t, <-errA, ErrSuperseded)
	assert.Empty(t, assistantDisplays(f.rec))
	assert.Empty(t, f.rec.Kind(EventSpeak))
	assert.NotEmpty(t, f.rec.Kind(EventStopSpeech))

	thinkingEvents := f.rec.Kind(EventThinking)
	require.NotEmpty(t, thinkingEvents)
	assert.False(t, *thinkingEvents[len(thinkingEvents)-1].On)
}

// #endregion supersede

// #region short-circuit

func TestModeSwitchShortCircuits(t *testing.T) {
	f := newFixture(t, nil, setup{})
	ctx := context.Background()

	res, err := f.sess.Handle(ctx, "modo dios")
	require.NoError(t, err)
	assert.Equal(t, "short_circuit", res.Outcome)
	assert.Equal(t, orchestrator.ActionModeElevated, res.Action)
	assert.Equal(t, persona.ModeElevated, f.sess.Mode())
	assert.Empty(t, f.provider.Requests())

	flag, err := f.store.GetPersona(ctx, anonymousTag)
	require.NoError(t, err)
	assert.Equal(t, "elevated", flag)
	assert.Len(t, f.sess.Turns(), 2, "a confirmation turn is appended")
}

func TestSupersededModeSwitchIsNotPersisted(t *testing.T) {
	f := newFixture(t, nil, setup{})
	ctx := context.Background()

	tr := f.sess.begin(conversation.NewUtterance("modo dios"), func() {})
	f.sess.Cancel()
	_, err := f.sess.shortCircuit(ctx, tr, orchestrator.Action{Kind: orchestrator.ActionModeElevated})
	f.sess.end(tr.gen)
	require.ErrorIs(t, err, ErrSuperseded)

	assert.Equal(t, persona.ModeStandard, f.sess.Mode())
	flag, err := f.store.GetPersona(ctx, anonymousTag)
	require.NoError(t, err)
	assert.Empty(t, flag, "a cancelled switch leaves the stored persona alone")
}

func TestAlternateModeRequiresAdult(t *testing.T) {
	f := newFixture(t, nil, setup{})
	ctx := context.Background()

	res, err := f.sess.Handle(ctx, "modo rita")
	require.NoError(t, err)
	assert.Equal(t, refuseAlternate, res.Reply)
	assert.Equal(t, persona.ModeStandard, f.sess.Mode())

	require.NoError(t, f.sess.SetProfile(ctx, state.Profile{Name: "Ana", BirthDate: birth(1990)}))
	res, err = f.sess.Handle(ctx, "modo rita")
	require.NoError(t, err)
	assert.Equal(t, confirmAlternate, res.Reply)
	assert.Equal(t, persona.ModeAlternate, f.sess.Mode())

	res, err = f.sess.Handle(ctx, "modo normal")
	require.NoError(t, err)
	assert.Equal(t, confirmStandard, res.Reply)
	assert.Equal(t, persona.ModeStandard, f.sess.Mode())
}

func TestMusicShortCircuits(t *testing.T) {
	f := newFixture(t, nil, setup{})
	ctx := context.Background()

	_, err := f.sess.Handle(ctx, "pon música salsa")
	require.NoError(t, err)
	radio := f.rec.Kind(EventRadio)
	require.Len(t, radio, 1)
	assert.Equal(t, "salsa", radio[0].Genre)

	_, err = f.sess.Handle(ctx, "apaga la música")
	require.NoError(t, err)
	assert.Len(t, f.rec.Kind(EventRadioStop), 1)
	assert.Empty(t, f.provider.Requests())
}

func TestClearConversation(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Claro.")}, setup{})
	ctx := context.Background()

	_, err := f.sess.Handle(ctx, "hola")
	require.NoError(t, err)
	_, err = f.sess.Handle(ctx, "borra el historial")
	require.NoError(t, err)

	assert.Empty(t, f.sess.Turns())
	stored, err := f.store.LoadTurns(ctx, anonymousTag, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// #endregion short-circuit

// #region profile

func TestProfileAuthorization(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Listo.")}, setup{opts: Options{FinancialUser: "Daniel"}})
	ctx := context.Background()
	allowed := strings.TrimSpace(f.tmpl.Rules["financial_allowed"])

	_, err := f.sess.Handle(ctx, "hola")
	require.NoError(t, err)
	assert.False(t, f.sess.Authorized())
	assert.NotContains(t, f.provider.Requests()[0].System, allowed)

	require.NoError(t, f.sess.SetProfile(ctx, state.Profile{Name: "daniel"}))
	assert.True(t, f.sess.Authorized())
	assert.Empty(t, f.sess.Turns(), "a new profile loads its own log")

	_, err = f.sess.Handle(ctx, "hola")
	require.NoError(t, err)
	assert.Contains(t, f.provider.Requests()[1].System, allowed)
}

func TestUserTag(t *testing.T) {
	assert.Equal(t, "jose maria", UserTag("  José  María "))
	assert.Equal(t, anonymousTag, UserTag(""))
}

// #endregion profile

// #region effects

func TestDialAfterReply(t *testing.T) {
	store, err := state.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	book, err := contacts.NewStore(store.DB())
	require.NoError(t, err)
	require.NoError(t, book.Save(context.Background(), contacts.Contact{Name: "Mamá", Number: "+58 412 555 1234"}))

	f := newFixture(t, map[string]replyFunc{"m1": say("Llamando a mamá.")}, setup{
		opts:      Options{DialDelay: 10 * time.Millisecond},
		catalogue: enrich.Catalogue{enrich.NewContacts(book)},
	})

	res, err := f.sess.Handle(context.Background(), "llama a mamá")
	require.NoError(t, err)
	assert.Equal(t, "+584125551234", res.Dial)
	require.Len(t, res.Fragments, 1)

	require.Eventually(t, func() bool { return len(f.rec.Kind(EventDial)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "+584125551234", f.rec.Kind(EventDial)[0].Number)
}

func TestAlarmEnricherBooksAlarm(t *testing.T) {
	f := newFixture(t, map[string]replyFunc{"m1": say("Listo, te aviso.")}, setup{
		catalogue: enrich.Catalogue{enrich.NewAlarm()},
	})

	_, err := f.sess.Handle(context.Background(), "pon una alarma a las 7 de la tarde para sacar la basura")
	require.NoError(t, err)
	alarms := f.sess.Alarms().List()
	require.Len(t, alarms, 1)
	assert.Equal(t, "19:00", alarms[0].TriggerTime)
}

func TestFireAlarm(t *testing.T) {
	f := newFixture(t, nil, setup{})
	f.sess.FireAlarm(alarm.Alarm{TriggerTime: "07:00", Label: "tomar la pastilla"})

	got := f.rec.Kind(EventAlarm)
	require.Len(t, got, 1)
	assert.Equal(t, "tomar la pastilla", got[0].Label)
	speaks := f.rec.Kind(EventSpeak)
	require.Len(t, speaks, 1)
	assert.Equal(t, "¡Alarma! tomar la pastilla.", speaks[0].Text)
}

// #endregion effects

func imageServer(t *testing.T) (*imagegen.Pollinations, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return imagegen.New(srv.URL, fetch.New(fetch.DefaultConfig(), srv.Client()), zerolog.Nop()), &hits
}

func TestImageReplyWarmsUpOnce(t *testing.T) {
	images, hits := imageServer(t)
	f := newFixture(t, map[string]replyFunc{"m1": say("Ahí va.\nGENERAR_IMAGEN: un gato astronauta")}, setup{images: images})

	res, err := f.sess.Handle(context.Background(), "dibújame un gato")
	require.NoError(t, err)
	images.Wait()

	assert.Equal(t, images.URL("un gato astronauta"), res.ImageURL)
	require.Len(t, f.rec.Kind(EventImage), 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSupersededImageReplyIsNotRendered(t *testing.T) {
	images, hits := imageServer(t)
	var f *fixture
	replace := func(context.Context, *llm.ChatRequest) (string, error) {
		// A newer turn takes over after the model has answered.
		f.sess.mu.Lock()
		f.sess.gen++
		f.sess.mu.Unlock()
		return "GENERAR_IMAGEN: un gato astronauta", nil
	}
	f = newFixture(t, map[string]replyFunc{"m1": replace}, setup{images: images})

	_, err := f.sess.Handle(context.Background(), "dibújame un gato")
	require.ErrorIs(t, err, ErrSuperseded)
	images.Wait()

	assert.Empty(t, f.rec.Kind(EventImage))
	assert.Zero(t, hits.Load())
}
