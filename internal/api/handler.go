package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refund_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// RefundService is the lifecycle the handlers expose.
type RefundService interface {
	CreateRefundRequest(ctx context.Context, sess domain.Session, amount decimal.Decimal) (*domain.RefundRequest, error)
	ConfirmPayment(ctx context.Context, sess domain.Session, id uuid.UUID, receiptURL string) (*domain.RefundRequest, error)
	MarkAsVerifying(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error)
	ApproveRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error)
	RejectRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error)
	ListTaskerRefundRequests(ctx context.Context, sess domain.Session) ([]domain.RefundRequest, error)
	ListAllRefundRequests(ctx context.Context, sess domain.Session, filter domain.RefundFilter) ([]domain.RefundRequest, error)
	GetRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID) (*domain.RefundRequest, error)
	RefundStats(ctx context.Context, sess domain.Session) (map[domain.RefundStatus]int64, error)
	GetWallet(ctx context.Context, sess domain.Session) (*domain.Wallet, error)
	ListNotifications(ctx context.Context, sess domain.Session) ([]domain.Notification, error)
}

type Handler struct {
	service RefundService
	logger  *zap.Logger
}

func NewHandler(svc RefundService, logger *zap.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the refund routes on r, which is expected to be the
// /api/v1 subrouter.
func (h *Handler) Register(r *mux.Router) {
	r.Use(instrument)

	r.HandleFunc("/refund-requests", h.CreateRefundRequestHandler).Methods(http.MethodPost)
	r.HandleFunc("/refund-requests", h.ListTaskerRefundRequestsHandler).Methods(http.MethodGet)
	r.HandleFunc("/refund-requests/{id}", h.GetRefundRequestHandler).Methods(http.MethodGet)
	r.HandleFunc("/refund-requests/{id}/confirm-payment", h.ConfirmPaymentHandler).Methods(http.MethodPost)

	r.HandleFunc("/admin/refund-requests", h.ListAllRefundRequestsHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/refund-requests/stats", h.RefundStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/refund-requests/{id}/verify", h.MarkAsVerifyingHandler).Methods(http.MethodPost)
	r.HandleFunc("/admin/refund-requests/{id}/approve", h.ApproveRefundRequestHandler).Methods(http.MethodPost)
	r.HandleFunc("/admin/refund-requests/{id}/reject", h.RejectRefundRequestHandler).Methods(http.MethodPost)

	r.HandleFunc("/wallet", h.GetWalletHandler).Methods(http.MethodGet)
	r.HandleFunc("/notifications", h.ListNotificationsHandler).Methods(http.MethodGet)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError maps a lifecycle error to its status code. The
// message goes to the caller as is.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		h.logger.Error("refund operation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.Envelope{Success: false, Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
