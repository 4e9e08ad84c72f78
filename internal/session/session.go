// Package session drives one conversation: it routes each utterance through
// short-circuit commands, enrichment, prompt assembly and the model cascade,
// and reports the outcome to a Sink as client events.
//
// A session runs at most one turn at a time. A new utterance supersedes the
// turn in flight: its cascade is cancelled and none of its output is emitted.
package session

// #region imports
import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/olga/go-assistant/internal/alarm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/contacts"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/enrich"
	"github.com/danielpatrickdp/olga/go-assistant/internal/imagegen"
	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
	"github.com/danielpatrickdp/olga/go-assistant/internal/metrics"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
	"github.com/danielpatrickdp/olga/go-assistant/internal/selfmodel"
	"github.com/danielpatrickdp/olga/go-assistant/internal/speech"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

// #endregion imports

// #region errors

var (
	// ErrSuperseded is returned by Handle when the turn was cancelled or
	// replaced by a newer utterance. Nothing was emitted for it.
	ErrSuperseded = errors.New("turn superseded")

	// ErrEmptyUtterance is returned for blank input.
	ErrEmptyUtterance = errors.New("empty utterance")
)

// #endregion errors

// #region config

// Options are the per-session tunables.
type Options struct {
	MaxTokens     int
	Temperature   float64
	LogCap        int
	TokenDivisor  int
	FinancialUser string
	AdultAge      int
	DialDelay     time.Duration
}

// OptionsFromConfig extracts session options from the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxTokens:     cfg.Chat.MaxTokens,
		Temperature:   cfg.Chat.Temperature,
		LogCap:        cfg.Chat.LogCap,
		TokenDivisor:  cfg.Chat.TokenDivisor,
		FinancialUser: cfg.Auth.FinancialUser,
		AdultAge:      cfg.Persona.AdultAge,
		DialDelay:     cfg.DialDelay,
	}
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Store      *state.Store
	Classifier orchestrator.Classifier
	Enrichers  *enrich.Runner
	Templates  *persona.Templates
	Assembler  *persona.Assembler
	Executor   *orchestrator.Executor
	Tiers      func() config.TiersConfig // read per turn so reloads apply
	Memory     memory.Store              // optional
	Images     *imagegen.Pollinations    // optional
	Log        zerolog.Logger
	Now        func() time.Time
}

const (
	anonymousTag = "anon"
	writeTimeout = 5 * time.Second
)

// #endregion config

// #region session

// Session is one conversation with one client.
type Session struct {
	deps Deps
	opts Options
	sink Sink
	log  zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	profile state.Profile
	userTag string
	mode    persona.Mode
	turns   *conversation.Log
	tokens  state.TokenUsage
	coords  *enrich.Coords
	pending string
	book    *alarm.Book
	timers  []*time.Timer

	wg sync.WaitGroup
}

// TurnResult describes a completed turn.
type TurnResult struct {
	TurnID    string
	Outcome   string // "success", "exhausted" or "short_circuit"
	Action    orchestrator.ActionKind
	Tier      orchestrator.Tier
	Enrichers []string
	Fragments []enrich.Fragment
	Reply     string
	Speech    string
	Emotion   speech.Emotion
	ImageURL  string
	Candidate llm.Candidate
	Attempts  []orchestrator.AttemptRecord
	Dial      string
}

// New creates a session bound to sink and restores the most recent profile
// with its log, persona and token counter.
func New(ctx context.Context, deps Deps, opts Options, sink Sink) (*Session, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tiers == nil {
		deps.Tiers = config.DefaultTiers
	}
	if opts.TokenDivisor <= 0 {
		opts.TokenDivisor = 4
	}
	if opts.LogCap <= 0 {
		opts.LogCap = 50
	}
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	if err := logging.EnsureProvenanceSchema(deps.Store.DB()); err != nil {
		return nil, err
	}
	s := &Session{
		deps: deps,
		opts: opts,
		sink: sink,
		log:  logging.Component(deps.Log, "session"),
		book: alarm.NewBook(),
	}

	p, err := deps.Store.LastProfile(ctx)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}
	if err := s.load(ctx, p); err != nil {
		return nil, err
	}
	return s, nil
}

// UserTag derives the storage key for a profile name.
func UserTag(name string) string {
	if tag := contacts.Fold(name); tag != "" {
		return tag
	}
	return anonymousTag
}

// load switches the session to profile p. Callers hold no lock.
func (s *Session) load(ctx context.Context, p state.Profile) error {
	tag := UserTag(p.Name)
	history, err := s.deps.Store.LoadTurns(ctx, tag, s.opts.LogCap)
	if err != nil {
		return err
	}
	flag, err := s.deps.Store.GetPersona(ctx, tag)
	if err != nil {
		return err
	}
	tokens, err := s.deps.Store.LoadTokens(ctx, tag)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.userTag = tag
	s.mode = persona.ParseMode(flag)
	s.turns = conversation.NewLog(s.opts.LogCap, history...)
	s.tokens = tokens
	s.pending = ""
	return nil
}

// #endregion session

// #region accessors

// Profile returns the active profile.
func (s *Session) Profile() state.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Mode returns the active persona.
func (s *Session) Mode() persona.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Turns returns a copy of the conversation log.
func (s *Session) Turns() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns.Turns()
}

// Tokens returns today's token estimate.
func (s *Session) Tokens() state.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Current(s.deps.Now())
}

// Alarms returns the session's alarm book.
func (s *Session) Alarms() *alarm.Book { return s.book }

// Authorized reports whether the active profile may see financial data.
func (s *Session) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorizedLocked()
}

func (s *Session) authorizedLocked() bool {
	want := contacts.Fold(s.opts.FinancialUser)
	return want != "" && contacts.Fold(s.profile.Name) == want
}

// #endregion accessors

// #region settings

// SetProfile saves p and makes it the active profile, reloading its stored
// log and persona. Any turn in flight is cancelled.
func (s *Session) SetProfile(ctx context.Context, p state.Profile) error {
	if err := s.deps.Store.SaveProfile(ctx, p); err != nil {
		return err
	}
	s.Cancel()
	return s.load(ctx, p)
}

// SetLocation records the device position for location-aware enrichers.
func (s *Session) SetLocation(lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coords = &enrich.Coords{Lat: lat, Lon: lon}
}

// #endregion settings

// #region cancel

// Cancel stops the turn in flight and any ongoing speech. It is a no-op for
// the session's stored state.
func (s *Session) Cancel() {
	s.mu.Lock()
	active := s.cancel != nil
	if active {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.mu.Unlock()

	s.sink.Emit(Event{Kind: EventStopSpeech})
	if active {
		s.sink.Emit(thinking(false))
	}
}

// Close cancels work in flight, stops pending dials and waits for
// background writes.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until background memory and provenance writes finish.
func (s *Session) Wait() { s.wg.Wait() }

// #endregion cancel

// #region handle

// turn is the state captured when a turn starts.
type turn struct {
	id         string
	gen        uint64
	utterance  conversation.Utterance
	userTag    string
	profile    state.Profile
	mode       persona.Mode
	history    []conversation.Turn
	authorized bool
	coords     *enrich.Coords
	pending    string
	started    time.Time
}

// Handle runs one turn for text. It returns ErrSuperseded when the turn was
// cancelled or replaced before it could reply, and the *ExhaustedError when
// every candidate failed; the apology has been emitted in that case.
func (s *Session) Handle(ctx context.Context, text string) (TurnResult, error) {
	u := conversation.NewUtterance(text)
	if u.Empty() {
		return TurnResult{}, ErrEmptyUtterance
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := s.begin(u, cancel)
	defer s.end(t.gen)

	s.emitCurrent(t.gen, Event{Kind: EventDisplay, Role: string(conversation.RoleUser), Text: u.Raw})
	s.persist(turnCtx, t.userTag, conversation.Turn{Role: conversation.RoleUser, Text: u.Raw, At: t.started})

	cls := s.deps.Classifier.Classify(u, t.mode)
	if cls.ShortCircuit != nil {
		return s.shortCircuit(turnCtx, t, *cls.ShortCircuit)
	}
	return s.converse(turnCtx, t, cls)
}

// begin supersedes the turn in flight and snapshots session state.
func (s *Session) begin(u conversation.Utterance, cancel context.CancelFunc) turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.cancel = cancel

	now := s.deps.Now()
	t := turn{
		id:         uuid.NewString(),
		gen:        s.gen,
		utterance:  u,
		userTag:    s.userTag,
		profile:    s.profile,
		mode:       s.mode,
		history:    s.turns.Turns(),
		authorized: s.authorizedLocked(),
		coords:     s.coords,
		pending:    s.pending,
		started:    now,
	}
	s.turns.Append(conversation.Turn{Role: conversation.RoleUser, Text: u.Raw, At: now})
	return t
}

func (s *Session) end(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cancel = nil
	}
}

// emitCurrent emits evs only while gen is the newest turn. The events go out
// together, so a superseding turn never interleaves with them.
func (s *Session) emitCurrent(gen uint64, evs ...Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	for _, e := range evs {
		s.sink.Emit(e)
	}
	return true
}

// commit appends an assistant turn and emits evs atomically, if gen is
// still current.
func (s *Session) commit(gen uint64, reply conversation.Turn, evs ...Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.turns.Append(reply)
	for _, e := range evs {
		s.sink.Emit(e)
	}
	return true
}

// persist stores turns for userTag. Storage failures are logged and the
// turn continues.
func (s *Session) persist(ctx context.Context, userTag string, turns ...conversation.Turn) {
	wctx, cancel := logging.DetachContextWithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.deps.Store.AppendTurns(wctx, userTag, s.opts.LogCap, turns...); err != nil {
		s.log.Warn().Err(err).Str("user", userTag).Msg("persist turns failed")
	}
}

// speak emits stop_speech then speak, so a new reply always interrupts the
// previous one.
func speak(text, voice string) []Event {
	return []Event{{Kind: EventStopSpeech}, {Kind: EventSpeak, Text: text, Voice: voice}}
}

func (s *Session) voice(p state.Profile, mode persona.Mode) string {
	if p.Voice != "" {
		return p.Voice
	}
	if s.deps.Templates != nil {
		return s.deps.Templates.Variant(mode).Name
	}
	return string(mode)
}

// #endregion handle

// #region converse

// turnEffects collects enricher side effects for one turn.
type turnEffects struct {
	s   *Session
	gen uint64

	mu   sync.Mutex
	dial string
}

func (fx *turnEffects) Dial(number string) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.dial = number
}

func (fx *turnEffects) SetPendingContact(name string) {
	fx.s.mu.Lock()
	defer fx.s.mu.Unlock()
	if fx.s.gen == fx.gen {
		fx.s.pending = name
	}
}

func (fx *turnEffects) AddAlarm(a alarm.Alarm) {
	fx.s.book.Add(a)
}

func (fx *turnEffects) number() string {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.dial
}

func (s *Session) converse(ctx context.Context, t turn, cls orchestrator.Classification) (TurnResult, error) {
	res := TurnResult{TurnID: t.id, Tier: cls.Tier, Enrichers: cls.Enrichers}
	s.emitCurrent(t.gen, thinking(true))

	fx := &turnEffects{s: s, gen: t.gen}
	snap := enrich.Snapshot{
		UserTag:        t.userTag,
		UserName:       t.profile.Name,
		Authorized:     t.authorized,
		Location:       t.profile.Location,
		Coords:         t.coords,
		PendingContact: t.pending,
		Now:            t.started,
	}
	if s.deps.Enrichers != nil && len(cls.Enrichers) > 0 {
		res.Fragments = s.deps.Enrichers.Run(ctx, cls.Enrichers, t.utterance, snap, fx)
	}
	if ctx.Err() != nil {
		return s.superseded(t, res)
	}

	texts := make([]string, len(res.Fragments))
	for i, f := range res.Fragments {
		texts[i] = f.Text
	}
	age, ageKnown := t.profile.Age(t.started)
	prompt := s.deps.Assembler.Assemble(persona.Input{
		Utterance:  t.utterance,
		Fragments:  texts,
		Mode:       t.mode,
		UserName:   t.profile.Name,
		Age:        age,
		AgeKnown:   ageKnown,
		Location:   t.profile.Location,
		History:    t.history,
		MemoryDNA:  selfmodel.FromTurns(t.history).Text,
		Authorized: t.authorized,
		Now:        t.started,
	})
	req := &llm.ChatRequest{
		System:      prompt.System(),
		Messages:    prompt.Messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}

	candidates := s.deps.Tiers().ForTier(string(cls.Tier))
	out, err := s.deps.Executor.Run(ctx, t.id, cls.Tier, candidates, req)
	res.Candidate = out.Candidate
	res.Attempts = out.Attempts
	if errors.Is(err, orchestrator.ErrCancelled) || ctx.Err() != nil {
		return s.superseded(t, res)
	}
	var exhausted *orchestrator.ExhaustedError
	if errors.As(err, &exhausted) {
		return s.exhausted(ctx, t, res, exhausted)
	}
	if err != nil {
		return s.exhausted(ctx, t, res, &orchestrator.ExhaustedError{Attempts: len(out.Attempts), Last: err})
	}

	post := speech.Process(out.Reply)
	res.Outcome = "success"
	res.Reply = post.Display
	res.Speech = post.Speech
	res.Emotion = post.Emotion

	evs := []Event{
		thinking(false),
		{Kind: EventDisplay, Role: string(conversation.RoleAssistant), Text: post.Display,
			Model: out.Candidate.Model, Tier: string(cls.Tier)},
	}
	if post.Emotion != speech.EmotionNone {
		evs = append(evs, Event{Kind: EventEffect, Emotion: string(post.Emotion)})
	}
	if post.ImagePrompt != "" && s.deps.Images != nil {
		res.ImageURL = s.deps.Images.URL(post.ImagePrompt)
		evs = append(evs, Event{Kind: EventImage, URL: res.ImageURL})
	}
	evs = append(evs, speak(post.Speech, s.voice(t.profile, t.mode))...)

	reply := conversation.Turn{Role: conversation.RoleAssistant, Text: post.Display, At: s.deps.Now()}
	if !s.commit(t.gen, reply, evs...) {
		return s.superseded(t, res)
	}
	s.persist(ctx, t.userTag, reply)
	if res.ImageURL != "" {
		s.deps.Images.Generate(ctx, post.ImagePrompt)
	}

	if number := fx.number(); number != "" {
		res.Dial = number
		s.scheduleDial(number)
	}
	s.account(ctx, t, req.InputChars()+len([]rune(out.Reply)))
	s.remember(ctx, t, post.Display)
	s.provenance(ctx, t, res, "success", "")
	metrics.TurnDuration.WithLabelValues("success").Observe(time.Since(t.started).Seconds())
	return res, nil
}

func (s *Session) superseded(t turn, res TurnResult) (TurnResult, error) {
	s.log.Debug().Str("turn", t.id).Msg("turn superseded")
	metrics.TurnDuration.WithLabelValues("cancelled").Observe(time.Since(t.started).Seconds())
	return res, ErrSuperseded
}

// connectionApology is spoken when every candidate failed.
const connectionApology = "Hubo un error de conexión."

func (s *Session) exhausted(ctx context.Context, t turn, res TurnResult, err *orchestrator.ExhaustedError) (TurnResult, error) {
	res.Outcome = "exhausted"
	msg := "Error: " + err.Error()
	res.Reply = msg

	evs := []Event{
		thinking(false),
		{Kind: EventError, Text: err.Error()},
		{Kind: EventDisplay, Role: string(conversation.RoleAssistant), Text: msg, Tier: string(res.Tier)},
	}
	evs = append(evs, speak(connectionApology, s.voice(t.profile, t.mode))...)
	reply := conversation.Turn{Role: conversation.RoleAssistant, Text: msg, At: s.deps.Now()}
	if !s.commit(t.gen, reply, evs...) {
		return s.superseded(t, res)
	}
	s.persist(ctx, t.userTag, reply)
	s.log.Warn().Str("turn", t.id).Str("tier", string(res.Tier)).Err(err).Msg("cascade exhausted")
	s.provenance(ctx, t, res, "exhausted", err.Error())
	metrics.TurnDuration.WithLabelValues("exhausted").Observe(time.Since(t.started).Seconds())
	return res, err
}

func (s *Session) scheduleDial(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := time.AfterFunc(s.opts.DialDelay, func() {
		s.sink.Emit(Event{Kind: EventDial, Number: number})
	})
	s.timers = append(s.timers, timer)
}

// account adds the turn's token estimate to today's counter.
func (s *Session) account(ctx context.Context, t turn, chars int) {
	est := chars / s.opts.TokenDivisor
	s.mu.Lock()
	if s.userTag != t.userTag {
		s.mu.Unlock()
		return
	}
	s.tokens = s.tokens.Add(est, s.deps.Now())
	usage := s.tokens
	s.mu.Unlock()

	metrics.TokensEstimated.Add(float64(est))
	wctx, cancel := logging.DetachContextWithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.deps.Store.SaveTokens(wctx, t.userTag, usage); err != nil {
		s.log.Warn().Err(err).Msg("save tokens failed")
	}
}

// remember appends the exchange to long-term memory in the background.
func (s *Session) remember(ctx context.Context, t turn, reply string) {
	if s.deps.Memory == nil {
		return
	}
	entry := memory.Entry{
		ID:        t.id,
		UserTag:   t.userTag,
		Content:   memory.FormatExchange(t.utterance.Raw, reply),
		Mode:      string(t.mode),
		CreatedAt: t.started,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := logging.DetachContextWithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := s.deps.Memory.Append(wctx, entry); err != nil {
			metrics.MemoryWrites.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("turn", t.id).Msg("memory append failed")
			return
		}
		metrics.MemoryWrites.WithLabelValues("ok").Inc()
	}()
}

// provenance records the turn in the background.
func (s *Session) provenance(ctx context.Context, t turn, res TurnResult, outcome, reason string) {
	entry := logging.ProvenanceEntry{
		TurnID:    t.id,
		UserTag:   t.userTag,
		Utterance: t.utterance.Raw,
		Tier:      string(res.Tier),
		Model:     res.Candidate.Model,
		Provider:  string(res.Candidate.Provider),
		Enrichers: res.Enrichers,
		Attempts:  len(res.Attempts),
		Outcome:   outcome,
		Reason:    reason,
		CreatedAt: t.started.UTC(),
	}
	record := &logging.TurnRecord{
		TurnID:       t.id,
		Utterance:    t.utterance.Raw,
		ShortCircuit: string(res.Action),
		Tier:         string(res.Tier),
		Enrichers:    res.Enrichers,
		Fragments:    len(res.Fragments),
		Model:        res.Candidate.Model,
		Reply:        res.Reply,
	}
	for _, a := range res.Attempts {
		record.Attempts = append(record.Attempts, a.Candidate.Model+":"+string(a.Outcome))
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := logging.DetachContextWithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := logging.LogTurn(wctx, s.deps.Store.DB(), entry, record); err != nil {
			s.log.Warn().Err(err).Str("turn", t.id).Msg("provenance write failed")
		}
	}()
}

// #endregion converse

// #region alarms

// FireAlarm announces a due alarm.
func (s *Session) FireAlarm(a alarm.Alarm) {
	s.mu.Lock()
	voice := s.voice(s.profile, s.mode)
	s.mu.Unlock()

	label := strings.TrimSpace(a.Label)
	if label == "" {
		label = alarm.DefaultLabel
	}
	s.sink.Emit(Event{Kind: EventAlarm, Label: label, Time: a.TriggerTime})
	for _, e := range speak("¡Alarma! "+label+".", voice) {
		s.sink.Emit(e)
	}
}

// StartAlarms runs a watcher over the session's alarm book until the
// returned stop function is called.
func (s *Session) StartAlarms(interval time.Duration) (stop func(), err error) {
	w, err := alarm.NewWatcher(s.book, interval, s.FireAlarm, s.log)
	if err != nil {
		return nil, err
	}
	w.Start()
	return func() { <-w.Stop().Done() }, nil
}

// #endregion alarms
