package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/refundops/internal/dispatch"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/notify"
	"github.com/punchamoorthee/refundops/internal/store"
	"go.uber.org/zap"
)

var refundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "refund_transitions_total",
	Help: "Refund requests entering each status",
}, []string{"status"})

// Repository is the persistent store. Statements issued through WithTx
// commit or roll back together.
type Repository interface {
	store.Queries
	WithTx(ctx context.Context, fn func(q store.Queries) error) error
}

// Dispatcher runs side effects after the primary mutation has committed.
type Dispatcher interface {
	Register(kind string, h dispatch.Handler)
	Enqueue(ctx context.Context, kind string, payload any) error
}

type Mailer interface {
	Send(ctx context.Context, msg notify.Message) error
}

type Dependencies struct {
	Repo       Repository
	Dispatcher Dispatcher
	Mailer     Mailer
	Logger     *zap.Logger

	Limits       domain.AmountLimits
	CodeAttempts int
	// StrictReject refuses to reject requests that are already terminal.
	StrictReject bool

	Now func() time.Time
}

// Service owns the refund request lifecycle.
type Service struct {
	repo         Repository
	dispatcher   Dispatcher
	mailer       Mailer
	logger       *zap.Logger
	limits       domain.AmountLimits
	strictReject bool
	now          func() time.Time
	codes        *codeGenerator
}

func New(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Limits.Max.IsZero() {
		deps.Limits = domain.DefaultAmountLimits()
	}
	s := &Service{
		repo:         deps.Repo,
		dispatcher:   deps.Dispatcher,
		mailer:       deps.Mailer,
		logger:       deps.Logger,
		limits:       deps.Limits,
		strictReject: deps.StrictReject,
		now:          deps.Now,
		codes:        newCodeGenerator(deps.Now, deps.CodeAttempts),
	}
	s.dispatcher.Register(jobAdminNotification, s.deliverAdminNotification)
	s.dispatcher.Register(jobTaskerEmail, s.deliverTaskerEmail)
	return s
}

func requireAdmin(sess domain.Session) error {
	if !sess.Authenticated() {
		return domain.ErrNotAuthenticated
	}
	if !sess.IsAdmin() {
		return domain.Unauthorized("Admin access required")
	}
	return nil
}

// wrap passes lifecycle errors through and turns anything else into a
// persistence error prefixed with msg.
func wrap(err error, msg string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Persistence(msg, err)
}

func refundNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("Refund request not found")
	}
	return err
}
