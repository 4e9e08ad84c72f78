package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

// testServer wires sessions without any model provider, so only
// short-circuit commands and exhausted turns are reachable.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := state.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tmpl, err := persona.LoadTemplates()
	require.NoError(t, err)

	factory := func(ctx context.Context, sink session.Sink) (*session.Session, error) {
		deps := session.Deps{
			Store:      store,
			Classifier: orchestrator.NewKeywordClassifier(),
			Templates:  tmpl,
			Assembler:  persona.NewAssembler(tmpl, 15),
			Executor:   orchestrator.NewExecutor(llm.NewRegistry(), orchestrator.ExecutorConfig{}, nil, zerolog.Nop()),
			Tiers:      config.DefaultTiers,
			Log:        zerolog.Nop(),
		}
		return session.New(ctx, deps, session.Options{AdultAge: 18}, sink)
	}
	srv := New(Config{Addr: "127.0.0.1:0"}, factory, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until one of kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind session.EventKind) session.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var e session.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Kind == kind {
			return e
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var hr HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hr))
	assert.Equal(t, "ok", hr.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "olga_active_sessions")
}

func TestWebsocketShortCircuit(t *testing.T) {
	conn := dial(t, testServer(t))

	require.NoError(t, conn.WriteJSON(Inbound{Type: "utterance", Text: "pon música salsa"}))
	radio := readUntil(t, conn, session.EventRadio)
	assert.Equal(t, "salsa", radio.Genre)
	speak := readUntil(t, conn, session.EventSpeak)
	assert.NotEmpty(t, speak.Text)
}

func TestWebsocketExhaustedTurnApologises(t *testing.T) {
	conn := dial(t, testServer(t))

	require.NoError(t, conn.WriteJSON(Inbound{Type: "utterance", Text: "hola"}))
	readUntil(t, conn, session.EventError)
	speak := readUntil(t, conn, session.EventSpeak)
	assert.Equal(t, "Hubo un error de conexión.", speak.Text)
}

func TestWebsocketRejectsBadMessages(t *testing.T) {
	conn := dial(t, testServer(t))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	e := readUntil(t, conn, session.EventError)
	assert.Equal(t, "mensaje inválido", e.Text)

	require.NoError(t, conn.WriteJSON(Inbound{Type: "bailar"}))
	e = readUntil(t, conn, session.EventError)
	assert.Contains(t, e.Text, "bailar")

	require.NoError(t, conn.WriteJSON(Inbound{Type: "profile", Name: "Ana", BirthDate: "ayer"}))
	e = readUntil(t, conn, session.EventError)
	assert.Equal(t, "fecha de nacimiento inválida", e.Text)
}

func TestInboundProfile(t *testing.T) {
	p, err := Inbound{Type: "profile", Name: " Ana ", BirthDate: "1990-05-02", Location: "Caracas"}.profile()
	require.NoError(t, err)
	require.NotNil(t, p.BirthDate)
	assert.Equal(t, 1990, p.BirthDate.Year())
	assert.Equal(t, "Caracas", p.Location)
	assert.Equal(t, "Ana", p.Name)

	_, err = Inbound{Type: "profile"}.profile()
	assert.Error(t, err)
}
