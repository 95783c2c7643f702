package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/refundops/internal/auth"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/models"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 16

func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func requestID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

func (h *Handler) CreateRefundRequestHandler(w http.ResponseWriter, r *http.Request) {
	var body models.CreateRefundRequest
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	amount := decimal.Zero
	if body.Amount != nil {
		amount = *body.Amount
	}

	req, err := h.service.CreateRefundRequest(r.Context(), auth.FromContext(r.Context()), amount)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/refund-requests/"+req.ID.String())
	respondWithJSON(w, http.StatusCreated, models.Envelope{Success: true, Request: req})
}

func (h *Handler) ListTaskerRefundRequestsHandler(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListTaskerRefundRequests(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []domain.RefundRequest{}
	}
	respondWithJSON(w, http.StatusOK, models.RefundList{Success: true, Requests: reqs})
}

func (h *Handler) GetRefundRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid refund request id")
		return
	}
	req, err := h.service.GetRefundRequest(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Envelope{Success: true, Request: req})
}

func (h *Handler) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid refund request id")
		return
	}
	var body models.ConfirmPaymentRequest
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	req, err := h.service.ConfirmPayment(r.Context(), auth.FromContext(r.Context()), id, body.ReceiptURL)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Envelope{Success: true, Request: req})
}

func (h *Handler) ListAllRefundRequestsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RefundFilter{Status: domain.RefundStatus(q.Get("status"))}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Query parameter "+name+" must be an integer")
			return
		}
		*dst = n
	}

	reqs, err := h.service.ListAllRefundRequests(r.Context(), auth.FromContext(r.Context()), filter)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []domain.RefundRequest{}
	}
	respondWithJSON(w, http.StatusOK, models.RefundList{Success: true, Requests: reqs, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) RefundStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.RefundStats(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Envelope{Success: true, Stats: stats})
}

func (h *Handler) MarkAsVerifyingHandler(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.service.MarkAsVerifying)
}

func (h *Handler) ApproveRefundRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.service.ApproveRefundRequest)
}

func (h *Handler) RejectRefundRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.service.RejectRefundRequest)
}

type adminTransition func(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error)

func (h *Handler) adminAction(w http.ResponseWriter, r *http.Request, transition adminTransition) {
	id, ok := requestID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid refund request id")
		return
	}
	var body models.AdminActionRequest
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	req, err := transition(r.Context(), auth.FromContext(r.Context()), id, body.AdminNotes)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Envelope{Success: true, Request: req})
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetWallet(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Envelope{Success: true, Wallet: wallet})
}

func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	ns, err := h.service.ListNotifications(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	respondWithJSON(w, http.StatusOK, models.NotificationList{Success: true, Notifications: ns})
}
