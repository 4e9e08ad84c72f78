// Package rpc serves sessions over gRPC for headless clients and the CLI.
// Messages are google.protobuf.Struct values, so the service needs no
// generated code.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
)

// #region descriptor

const (
	serviceName    = "olga.v1.Assistant"
	converseMethod = "/" + serviceName + "/Converse"
	cancelMethod   = "/" + serviceName + "/Cancel"
	defaultSession = "default"
)

// AssistantServer is the server side of olga.v1.Assistant.
type AssistantServer interface {
	Converse(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(AssistantServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AssistantServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AssistantServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes olga.v1.Assistant.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Converse",
			Handler:    unaryHandler(converseMethod, AssistantServer.Converse),
		},
		{
			MethodName: "Cancel",
			Handler:    unaryHandler(cancelMethod, AssistantServer.Cancel),
		},
	},
	Metadata: "olga/v1/assistant.proto",
}

// #endregion descriptor

// #region service

// Factory creates a session bound to sink.
type Factory func(ctx context.Context, sink session.Sink) (*session.Session, error)

type entry struct {
	sess *session.Session
	rec  *session.Recorder
}

const (
	defaultIdleTTL     = 30 * time.Minute
	defaultMaxSessions = 256
)

// Service keeps one session per client-chosen session id. Sessions idle
// longer than the TTL, or beyond the size limit, are closed.
type Service struct {
	factory  Factory
	log      zerolog.Logger
	ttl      time.Duration
	max      int
	mu       sync.Mutex
	sessions *expirable.LRU[string, *entry]
	closing  sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithIdleTTL sets how long a session may go unused before it is closed.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxSessions caps the number of live sessions; the least recently
// used one is closed to make room.
func WithMaxSessions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewService creates the service.
func NewService(factory Factory, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{factory: factory, log: log, ttl: defaultIdleTTL, max: defaultMaxSessions}
	for _, opt := range opts {
		opt(s)
	}
	s.sessions = expirable.NewLRU[string, *entry](s.max, s.evicted, s.ttl)
	return s
}

// evicted runs under the cache lock, so the session is closed elsewhere.
func (s *Service) evicted(id string, e *entry) {
	s.log.Debug().Str("session", id).Msg("closing session")
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		e.sess.Close()
	}()
}

func (s *Service) session(ctx context.Context, id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions.Get(id); ok {
		s.sessions.Add(id, e)
		return e, nil
	}
	rec := &session.Recorder{}
	sess, err := s.factory(context.WithoutCancel(ctx), rec)
	if err != nil {
		return nil, err
	}
	e := &entry{sess: sess, rec: rec}
	s.sessions.Add(id, e)
	return e, nil
}

// touch restarts the idle clock of a session that is still cached.
func (s *Service) touch(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions.Peek(id); ok && cur == e {
		s.sessions.Add(id, e)
	}
}

// Sessions returns the number of live sessions.
func (s *Service) Sessions() int { return s.sessions.Len() }

func sessionID(in *structpb.Struct) string {
	if v, ok := in.GetFields()["session"]; ok && v.GetStringValue() != "" {
		return v.GetStringValue()
	}
	return defaultSession
}

// Converse runs one turn. Request fields: session, text. The response
// carries the turn outcome and the events emitted while it ran.
func (s *Service) Converse(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := sessionID(in)
	e, err := s.session(ctx, id)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "create session: %v", err)
	}
	text := in.GetFields()["text"].GetStringValue()

	before := len(e.rec.Events())
	res, err := e.sess.Handle(ctx, text)
	s.touch(id, e)
	var exhausted *orchestrator.ExhaustedError
	switch {
	case errors.Is(err, session.ErrEmptyUtterance):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrSuperseded):
		return nil, status.Error(codes.Canceled, err.Error())
	case err != nil && !errors.As(err, &exhausted):
		return nil, status.Errorf(codes.Internal, "turn: %v", err)
	}

	events := e.rec.Events()[before:]
	list := make([]interface{}, 0, len(events))
	for _, ev := range events {
		m, err := toMap(ev)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode event: %v", err)
		}
		list = append(list, m)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"turn_id":   res.TurnID,
		"outcome":   res.Outcome,
		"reply":     res.Reply,
		"speech":    res.Speech,
		"emotion":   string(res.Emotion),
		"model":     res.Candidate.Model,
		"tier":      string(res.Tier),
		"image_url": res.ImageURL,
		"events":    list,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

// Cancel stops the turn in flight for a session.
func (s *Service) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if e, ok := s.sessions.Peek(sessionID(in)); ok {
		e.sess.Cancel()
	}
	return &structpb.Struct{}, nil
}

// Close closes every session and waits for them to finish.
func (s *Service) Close() {
	s.mu.Lock()
	s.sessions.Purge()
	s.mu.Unlock()
	s.closing.Wait()
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// #endregion service

// #region server

// NewServer creates a gRPC server exposing svc and the standard health
// service.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, svc)
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// Serve listens on addr until the server stops.
func Serve(srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return srv.Serve(lis)
}

// #endregion server
