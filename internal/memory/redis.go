package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig addresses the stream backend. Each user gets its own stream
// named "<Stream>:<user tag>".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// RedisStore keeps memory entries on Redis streams.
type RedisStore struct {
	rdb    *redis.Client
	stream string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "olga:memory"
	}
	return &RedisStore{rdb: rdb, stream: stream}, nil
}

func (s *RedisStore) key(userTag string) string { return s.stream + ":" + userTag }

// Append adds e to the user's stream.
func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key(e.UserTag),
		Values: map[string]interface{}{
			"id":         e.ID,
			"user_tag":   e.UserTag,
			"content":    e.Content,
			"mode":       e.Mode,
			"created_at": e.CreatedAt.UTC().Format(timeLayout),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd memory: %w", err)
	}
	return nil
}

// Query reads the newest entries of the user's stream and ranks them.
func (s *RedisStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, s.key(q.UserTag), "+", "-", scanWindow).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xrevrange memory: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{
			ID:      str(m.Values["id"]),
			UserTag: str(m.Values["user_tag"]),
			Content: str(m.Values["content"]),
			Mode:    str(m.Values["mode"]),
		}
		e.CreatedAt, _ = time.Parse(timeLayout, str(m.Values["created_at"]))
		entries = append(entries, e)
	}
	return rank(entries, q.Keywords, q.Limit), nil
}

// Close closes the connection.
func (s *RedisStore) Close() error { return s.rdb.Close() }

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
