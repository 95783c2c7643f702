package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// listRedis implements the list commands RedisDeadLetters uses.
type listRedis struct {
	redis.Cmdable
	mu    sync.Mutex
	lists map[string][]string
}

func newListRedis() *listRedis {
	return &listRedis{lists: make(map[string][]string)}
}

func (r *listRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		var s string
		switch v := v.(type) {
		case []byte:
			s = string(v)
		case string:
			s = v
		}
		r.lists[key] = append([]string{s}, r.lists[key]...)
	}
	return redis.NewIntResult(int64(len(r.lists[key])), nil)
}

func (r *listRedis) RPop(_ context.Context, key string) *redis.StringCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.lists[key]
	if len(l) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	v := l[len(l)-1]
	r.lists[key] = l[:len(l)-1]
	return redis.NewStringResult(v, nil)
}

func (r *listRedis) LLen(_ context.Context, key string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return redis.NewIntResult(int64(len(r.lists[key])), nil)
}

func (r *listRedis) list(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lists[key]...)
}

func TestRedisDeadLettersRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newListRedis()
	store := NewRedisDeadLetters(rdb)

	first := DeadLetter{Job: Job{ID: "1", Kind: "email", Payload: []byte(`"a"`)}, Attempts: 3, Error: "boom", FailedAt: time.Now().UTC()}
	second := DeadLetter{Job: Job{ID: "2", Kind: "email", Payload: []byte(`"b"`), Redrives: 1}, Attempts: 3, Error: "boom"}
	for _, dl := range []DeadLetter{first, second} {
		if err := store.Push(ctx, dl); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if n, _ := store.Len(ctx); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	got, err := store.Pop(ctx)
	if err != nil || got == nil || got.Job.ID != "1" {
		t.Fatalf("expected oldest entry first, got %+v (%v)", got, err)
	}
	got, _ = store.Pop(ctx)
	if got == nil || got.Job.Redrives != 1 {
		t.Fatalf("expected redrive count to survive encoding, got %+v", got)
	}
	if got, err := store.Pop(ctx); got != nil || err != nil {
		t.Fatalf("expected empty store, got %+v (%v)", got, err)
	}

	if err := store.Park(ctx, first); err != nil {
		t.Fatalf("Park: %v", err)
	}
	if len(rdb.list(redisDeadLetterKey+":parked")) != 1 {
		t.Fatal("expected one parked entry")
	}
}

func TestRedisUndecodableEntryIsQuarantined(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newListRedis()
	store := NewRedisDeadLetters(rdb)

	rdb.LPush(ctx, redisDeadLetterKey, "{not json")
	if err := store.Push(ctx, DeadLetter{Job: Job{ID: "ok", Kind: "email", Payload: []byte(`"x"`)}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	_, err := store.Pop(ctx)
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
	poison := rdb.list(redisDeadLetterKey + ":poison")
	if len(poison) != 1 || poison[0] != "{not json" {
		t.Fatalf("expected raw blob quarantined, got %q", poison)
	}

	d, err := New(Options{Workers: 1, MaxAttempts: 1, Timeout: time.Second}, store, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)
	var delivered atomic.Int32
	d.Register("email", func(ctx context.Context, payload []byte) error {
		delivered.Add(1)
		return nil
	})

	// a second bad entry ahead of the good one must not stop the batch
	rdb.lists[redisDeadLetterKey] = append(rdb.lists[redisDeadLetterKey], "garbage")
	n, err := d.Redrive(ctx, 10)
	if err != nil {
		t.Fatalf("Redrive: %v", err)
	}
	d.Wait()
	if n != 1 || delivered.Load() != 1 {
		t.Fatalf("expected the decodable entry redriven, got n=%d delivered=%d", n, delivered.Load())
	}
	if len(rdb.list(redisDeadLetterKey+":poison")) != 2 {
		t.Fatal("expected both bad blobs quarantined")
	}
}
