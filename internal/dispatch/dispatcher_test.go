package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, dead DeadLetterStore) *Dispatcher {
	t.Helper()
	d, err := New(Options{Workers: 2, MaxAttempts: 3, Backoff: time.Millisecond, Timeout: time.Second}, dead, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestEnqueueRunsHandler(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, NewMemoryDeadLetters())
	var got string
	d.Register("greet", func(ctx context.Context, payload []byte) error {
		return json.Unmarshal(payload, &got)
	})

	if err := d.Enqueue(context.Background(), "greet", "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d.Wait()
	if got != "hello" {
		t.Fatalf("expected handler to receive payload, got %q", got)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	dead := NewMemoryDeadLetters()
	d := newTestDispatcher(t, dead)
	var calls atomic.Int32
	d.Register("flaky", func(ctx context.Context, payload []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("smtp timeout")
		}
		return nil
	})

	_ = d.Enqueue(context.Background(), "flaky", map[string]string{"to": "a@example.com"})
	d.Wait()

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if n, _ := dead.Len(context.Background()); n != 0 {
		t.Fatalf("expected no dead letters, got %d", n)
	}
}

func TestExhaustedJobIsDeadLetteredAndRedriven(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dead := NewMemoryDeadLetters()
	d := newTestDispatcher(t, dead)

	var healthy atomic.Bool
	var delivered atomic.Int32
	d.Register("email", func(ctx context.Context, payload []byte) error {
		if !healthy.Load() {
			return errors.New("broker unavailable")
		}
		delivered.Add(1)
		return nil
	})

	_ = d.Enqueue(ctx, "email", "approved")
	d.Wait()

	n, _ := dead.Len(ctx)
	if n != 1 {
		t.Fatalf("expected one dead letter, got %d", n)
	}

	healthy.Store(true)
	redriven, err := d.Redrive(ctx, 10)
	if err != nil {
		t.Fatalf("Redrive: %v", err)
	}
	d.Wait()
	if redriven != 1 || delivered.Load() != 1 {
		t.Fatalf("expected one redriven delivery, got redriven=%d delivered=%d", redriven, delivered.Load())
	}
	if n, _ := dead.Len(ctx); n != 0 {
		t.Fatalf("expected dead letters drained, got %d", n)
	}
}

func TestUnknownKindIsDeadLettered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dead := NewMemoryDeadLetters()
	d := newTestDispatcher(t, dead)

	_ = d.Enqueue(ctx, "nobody-listens", 1)
	d.Wait()

	dl, _ := dead.Pop(ctx)
	if dl == nil || dl.Job.Kind != "nobody-listens" || dl.Error != ErrUnknownKind.Error() {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
}

func TestRepeatedFailuresAreParked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dead := NewMemoryDeadLetters()
	d, err := New(Options{Workers: 1, MaxAttempts: 1, Backoff: time.Millisecond, Timeout: time.Second, MaxRedrives: 2}, dead, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)

	var calls atomic.Int32
	d.Register("email", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return errors.New("tasker no longer exists")
	})
	_ = d.Enqueue(ctx, "email", "rejected")
	d.Wait()

	for round, want := range []int{1, 1, 0} {
		n, err := d.Redrive(ctx, 10)
		if err != nil {
			t.Fatalf("round %d: Redrive: %v", round, err)
		}
		d.Wait()
		if n != want {
			t.Fatalf("round %d: expected %d redriven, got %d", round, want, n)
		}
	}

	if calls.Load() != 3 {
		t.Fatalf("expected 3 deliveries before parking, got %d", calls.Load())
	}
	if n, _ := dead.Len(ctx); n != 0 {
		t.Fatalf("expected redrive queue empty, got %d", n)
	}
	parked := dead.Parked()
	if len(parked) != 1 || parked[0].Job.Redrives != 2 || parked[0].Job.Kind != "email" {
		t.Fatalf("unexpected parked entries %+v", parked)
	}

	// parked entries stay out of later runs
	if n, _ := d.Redrive(ctx, 10); n != 0 {
		t.Fatalf("expected nothing to redrive, got %d", n)
	}
}
