package task

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/refundops/internal/domain"
	"go.uber.org/zap"
)

var (
	refundRequestsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "refund_requests",
		Help: "Refund requests currently in each status",
	}, []string{"status"})

	deadLetterBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "refund_dead_letters",
		Help: "Side-effect jobs waiting in the dead-letter store",
	})
)

// Redriver re-enqueues dead-lettered side effects.
type Redriver interface {
	Redrive(ctx context.Context, max int) (int, error)
}

type BacklogCounter interface {
	Len(ctx context.Context) (int64, error)
}

// RedriveJob periodically gives dead-lettered side effects another chance.
type RedriveJob struct {
	redriver Redriver
	backlog  BacklogCounter
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewRedriveJob(r Redriver, backlog BacklogCounter, interval time.Duration, batch int, logger *zap.Logger) *RedriveJob {
	return &RedriveJob{redriver: r, backlog: backlog, interval: interval, batch: batch, logger: logger}
}

func (j *RedriveJob) Name() string { return "dead_letter_redrive" }

func (j *RedriveJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *RedriveJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	n, err := j.redriver.Redrive(ctx, j.batch)
	if err != nil {
		j.logger.Error("dead-letter redrive failed", zap.Int("redriven", n), zap.Error(err))
	} else if n > 0 {
		j.logger.Info("dead letters redriven", zap.Int("redriven", n))
	}

	if left, err := j.backlog.Len(ctx); err == nil {
		deadLetterBacklog.Set(float64(left))
	}
}

type StatusCounter interface {
	CountRefundRequestsByStatus(ctx context.Context) (map[domain.RefundStatus]int64, error)
}

// StatsJob refreshes the per-status refund gauge.
type StatsJob struct {
	counter  StatusCounter
	interval time.Duration
	logger   *zap.Logger
}

func NewStatsJob(c StatusCounter, interval time.Duration, logger *zap.Logger) *StatsJob {
	return &StatsJob{counter: c, interval: interval, logger: logger}
}

func (j *StatsJob) Name() string { return "refund_status_gauge" }

func (j *StatsJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *StatsJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	counts, err := j.counter.CountRefundRequestsByStatus(ctx)
	if err != nil {
		j.logger.Error("failed to count refund requests", zap.Error(err))
		return
	}
	for _, st := range domain.AllStatuses {
		refundRequestsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
