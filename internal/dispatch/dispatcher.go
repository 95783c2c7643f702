package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "refund_side_effect_jobs_total",
	Help: "Side-effect jobs by kind and outcome (succeeded, retried, dead_lettered, parked)",
}, []string{"kind", "outcome"})

var ErrUnknownKind = errors.New("no handler registered for job kind")

// Handler performs one attempt of a job. Returning an error schedules a
// retry until the attempt budget is spent.
type Handler func(ctx context.Context, payload []byte) error

type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Redrives counts how many times the job came back out of the
	// dead-letter store.
	Redrives int `json:"redrives,omitempty"`
}

type DeadLetter struct {
	Job      Job       `json:"job"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

type Options struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	// MaxRedrives is how often a dead letter is retried before it is parked
	// for manual inspection.
	MaxRedrives int
}

// Dispatcher runs best-effort side effects on a bounded worker pool,
// detached from the request that enqueued them.
type Dispatcher struct {
	pool     *ants.Pool
	dead     DeadLetterStore
	logger   *zap.Logger
	opts     Options
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
}

func New(opts Options, dead DeadLetterStore, logger *zap.Logger) (*Dispatcher, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRedrives <= 0 {
		opts.MaxRedrives = 5
	}
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error("side-effect job panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Dispatcher{
		pool:     pool,
		dead:     dead,
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]Handler),
	}, nil
}

func (d *Dispatcher) Register(kind string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Enqueue schedules payload for the handler of kind. It only fails when the
// payload cannot be encoded or the pool is closed.
func (d *Dispatcher) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return d.submit(Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (d *Dispatcher) submit(job Job) error {
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.run(job)
	})
	if err != nil {
		d.wg.Done()
		return fmt.Errorf("submit %s job: %w", job.Kind, err)
	}
	return nil
}

func (d *Dispatcher) run(job Job) {
	d.mu.RLock()
	h, ok := d.handlers[job.Kind]
	d.mu.RUnlock()
	if !ok {
		d.deadLetter(job, 0, ErrUnknownKind)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		lastErr = h(ctx, job.Payload)
		cancel()
		if lastErr == nil {
			jobOutcomes.WithLabelValues(job.Kind, "succeeded").Inc()
			return
		}
		d.logger.Warn("side-effect job attempt failed",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < d.opts.MaxAttempts {
			jobOutcomes.WithLabelValues(job.Kind, "retried").Inc()
			time.Sleep(d.opts.Backoff * time.Duration(1<<(attempt-1)))
		}
	}
	d.deadLetter(job, d.opts.MaxAttempts, lastErr)
}

func (d *Dispatcher) deadLetter(job Job, attempts int, cause error) {
	jobOutcomes.WithLabelValues(job.Kind, "dead_lettered").Inc()
	dl := DeadLetter{Job: job, Attempts: attempts, Error: cause.Error(), FailedAt: time.Now().UTC()}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()
	if err := d.dead.Push(ctx, dl); err != nil {
		d.logger.Error("failed to store dead letter",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.String("cause", dl.Error),
			zap.Error(err),
		)
		return
	}
	d.logger.Error("side-effect job dead-lettered",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("cause", dl.Error),
	)
}

// Redrive takes up to max entries off the dead-letter store. Jobs that have
// already been redriven MaxRedrives times are parked instead of resubmitted,
// and undecodable entries are skipped. It reports how many were resubmitted.
func (d *Dispatcher) Redrive(ctx context.Context, max int) (int, error) {
	n := 0
	for range max {
		dl, err := d.dead.Pop(ctx)
		if errors.Is(err, ErrUndecodable) {
			d.logger.Error("skipped undecodable dead letter", zap.Error(err))
			continue
		}
		if err != nil {
			return n, fmt.Errorf("pop dead letter: %w", err)
		}
		if dl == nil {
			break
		}

		if dl.Job.Redrives >= d.opts.MaxRedrives {
			if err := d.dead.Park(ctx, *dl); err != nil {
				if pushErr := d.dead.Push(ctx, *dl); pushErr != nil {
					d.logger.Error("lost dead letter during redrive", zap.String("job_id", dl.Job.ID), zap.Error(pushErr))
				}
				return n, fmt.Errorf("park dead letter: %w", err)
			}
			jobOutcomes.WithLabelValues(dl.Job.Kind, "parked").Inc()
			d.logger.Warn("dead letter parked after repeated redrives",
				zap.String("job_id", dl.Job.ID),
				zap.String("kind", dl.Job.Kind),
				zap.Int("redrives", dl.Job.Redrives),
				zap.String("cause", dl.Error),
			)
			continue
		}

		job := dl.Job
		job.Redrives++
		if err := d.submit(job); err != nil {
			if pushErr := d.dead.Push(ctx, *dl); pushErr != nil {
				d.logger.Error("lost dead letter during redrive", zap.String("job_id", dl.Job.ID), zap.Error(pushErr))
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close drains in-flight jobs and releases the pool.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.pool.Release()
}
