// Package server exposes sessions to browser clients over a websocket and
// serves health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/olga/go-assistant/internal/metrics"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

// #region types

// Factory creates the session for a new connection.
type Factory func(ctx context.Context, sink session.Sink) (*session.Session, error)

// Config configures the listener.
type Config struct {
	Addr          string
	AlarmInterval time.Duration
}

// Inbound is one client message. Profile fields are set for type
// "profile" only; BirthDate is YYYY-MM-DD.
type Inbound struct {
	Type      string  `json:"type"` // utterance | cancel | profile | location
	Text      string  `json:"text,omitempty"`
	Name      string  `json:"name,omitempty"`
	BirthDate string  `json:"birth_date,omitempty"`
	Location  string  `json:"location,omitempty"`
	Voice     string  `json:"voice,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

const (
	outboxSize   = 64
	writeTimeout = 10 * time.Second
)

// #endregion types

// #region server

// Server is the HTTP front end.
type Server struct {
	cfg        Config
	newSession Factory
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
	started    time.Time

	mu       sync.Mutex
	sessions int
}

// New creates a server. Sessions are created per connection by factory.
func New(cfg Config, factory Factory, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		newSession: factory,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := s.sessions
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: n,
	})
}

func (s *Server) track(delta int) {
	s.mu.Lock()
	s.sessions += delta
	s.mu.Unlock()
	metrics.ActiveSessions.Add(float64(delta))
}

// #endregion server

// #region websocket

// outbox is the Sink of one connection. Events are written by a single
// goroutine in emission order.
type outbox struct {
	ch   chan session.Event
	done chan struct{}
}

func (o *outbox) Emit(e session.Event) {
	select {
	case o.ch <- e:
	case <-o.done:
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &outbox{ch: make(chan session.Event, outboxSize), done: make(chan struct{})}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, out)
	}()
	defer func() {
		close(out.done)
		<-writerDone
	}()

	sess, err := s.newSession(ctx, out)
	if err != nil {
		s.log.Error().Err(err).Msg("create session failed")
		out.Emit(session.Event{Kind: session.EventError, Text: "no se pudo iniciar la sesión"})
		return
	}
	defer sess.Close()

	if s.cfg.AlarmInterval > 0 {
		stop, err := sess.StartAlarms(s.cfg.AlarmInterval)
		if err != nil {
			s.log.Warn().Err(err).Msg("alarm watcher not started")
		} else {
			defer stop()
		}
	}

	s.track(1)
	defer s.track(-1)

	var turns sync.WaitGroup
	defer turns.Wait()
	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				out.Emit(session.Event{Kind: session.EventError, Text: "mensaje inválido"})
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("websocket read ended")
			}
			cancel()
			return
		}
		s.dispatch(ctx, sess, msg, out, &turns)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg Inbound, out session.Sink, turns *sync.WaitGroup) {
	switch msg.Type {
	case "utterance":
		turns.Add(1)
		go func() {
			defer turns.Done()
			_, err := sess.Handle(ctx, msg.Text)
			if err != nil && !errors.Is(err, session.ErrSuperseded) && !errors.Is(err, session.ErrEmptyUtterance) {
				s.log.Debug().Err(err).Msg("turn ended with error")
			}
		}()
	case "cancel":
		sess.Cancel()
	case "profile":
		p, err := msg.profile()
		if err == nil {
			err = sess.SetProfile(ctx, p)
		}
		if err != nil {
			out.Emit(session.Event{Kind: session.EventError, Text: err.Error()})
		}
	case "location":
		sess.SetLocation(msg.Lat, msg.Lon)
	default:
		out.Emit(session.Event{Kind: session.EventError, Text: "tipo de mensaje desconocido: " + msg.Type})
	}
}

// writeLoop sends events until done is closed. After a write failure it
// keeps draining so emitters never block on a dead connection.
func (s *Server) writeLoop(conn *websocket.Conn, out *outbox) {
	broken := false
	for {
		select {
		case e := <-out.ch:
			if broken {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				broken = true
			}
		case <-out.done:
			return
		}
	}
}

func (m Inbound) profile() (state.Profile, error) {
	if strings.TrimSpace(m.Name) == "" {
		return state.Profile{}, errors.New("perfil sin nombre")
	}
	prof := state.Profile{Name: strings.TrimSpace(m.Name), Location: m.Location, Voice: m.Voice}
	if m.BirthDate != "" {
		b, err := time.Parse("2006-01-02", m.BirthDate)
		if err != nil {
			return state.Profile{}, errors.New("fecha de nacimiento inválida")
		}
		prof.BirthDate = &b
	}
	return prof, nil
}

// #endregion websocket
