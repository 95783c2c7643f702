package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrUndecodable is returned by Pop for an entry that could not be decoded.
// The entry has been moved aside and the store is still usable.
var ErrUndecodable = errors.New("undecodable dead letter")

// DeadLetterStore keeps jobs whose attempts were exhausted. Pop returns
// nil when the store is empty; entries come back oldest first. Parked
// entries are out of the redrive rotation.
type DeadLetterStore interface {
	Push(ctx context.Context, dl DeadLetter) error
	Pop(ctx context.Context) (*DeadLetter, error)
	Len(ctx context.Context) (int64, error)
	Park(ctx context.Context, dl DeadLetter) error
}

type MemoryDeadLetters struct {
	mu     sync.Mutex
	items  []DeadLetter
	parked []DeadLetter
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (m *MemoryDeadLetters) Push(_ context.Context, dl DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, dl)
	return nil
}

func (m *MemoryDeadLetters) Pop(_ context.Context) (*DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, nil
	}
	dl := m.items[0]
	m.items = m.items[1:]
	return &dl, nil
}

func (m *MemoryDeadLetters) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

func (m *MemoryDeadLetters) Park(_ context.Context, dl DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked = append(m.parked, dl)
	return nil
}

// Parked returns a copy of the parked entries.
func (m *MemoryDeadLetters) Parked() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.parked...)
}

const redisDeadLetterKey = "refundops:dead_letters"

// RedisDeadLetters keeps dead letters in a Redis list so they survive
// restarts and can be redriven from any instance. Parked entries live under
// <key>:parked and undecodable blobs under <key>:poison.
type RedisDeadLetters struct {
	client redis.Cmdable
	key    string
}

func NewRedisDeadLetters(client redis.Cmdable) *RedisDeadLetters {
	return &RedisDeadLetters{client: client, key: redisDeadLetterKey}
}

// ConnectRedis accepts either a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisDeadLetters) Push(ctx context.Context, dl DeadLetter) error {
	blob, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.key, blob).Err()
}

func (r *RedisDeadLetters) Pop(ctx context.Context) (*DeadLetter, error) {
	blob, err := r.client.RPop(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dl DeadLetter
	if err := json.Unmarshal(blob, &dl); err != nil {
		if qErr := r.client.LPush(ctx, r.key+":poison", blob).Err(); qErr != nil {
			return nil, fmt.Errorf("quarantine undecodable dead letter %q: %w", blob, qErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return &dl, nil
}

func (r *RedisDeadLetters) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

func (r *RedisDeadLetters) Park(ctx context.Context, dl DeadLetter) error {
	blob, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.key+":parked", blob).Err()
}
