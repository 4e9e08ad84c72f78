package imagegen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

func TestURL(t *testing.T) {
	p := New("", nil, zerolog.Nop())
	assert.Equal(t,
		"https://image.pollinations.ai/prompt/un%20gato%20en%20Marte?width=1024&height=1024&nologo=true",
		p.URL(" un gato en Marte "))
}

func TestGenerateWarmsURL(t *testing.T) {
	var hits atomic.Int32
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotPath.Store(r.URL.EscapedPath())
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	p := New(srv.URL+"/", fetch.New(fetch.DefaultConfig(), srv.Client()), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	u := p.Generate(ctx, "casa roja")
	cancel()
	p.Wait()

	assert.Equal(t, srv.URL+"/prompt/casa%20roja?width=1024&height=1024&nologo=true", u)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "/prompt/casa%20roja", gotPath.Load())
}
