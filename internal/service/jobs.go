package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/notify"
	"go.uber.org/zap"
)

const (
	jobAdminNotification = "admin_notification"
	jobTaskerEmail       = "tasker_email"

	templateApproved = notify.TemplateRefundApproved
	templateRejected = notify.TemplateRefundRejected
)

type adminNotificationJob struct {
	AdminID   uuid.UUID `json:"admin_id"`
	RequestID uuid.UUID `json:"request_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
}

type taskerEmailJob struct {
	TaskerID      uuid.UUID       `json:"tasker_id"`
	RequestID     uuid.UUID       `json:"request_id"`
	Template      notify.Template `json:"template"`
	Amount        string          `json:"amount"`
	ReferenceCode string          `json:"reference_code"`
	AdminNotes    string          `json:"admin_notes"`
}

// notifyAdmins queues one in-app notification per admin. Failures here are
// logged; the request itself has already committed.
func (s *Service) notifyAdmins(ctx context.Context, req *domain.RefundRequest, kind, title, body string) {
	admins, err := s.repo.ListUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		s.logger.Error("failed to load admins for notification",
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
		return
	}
	for _, admin := range admins {
		job := adminNotificationJob{
			AdminID:   admin.ID,
			RequestID: req.ID,
			Type:      kind,
			Title:     title,
			Body:      body,
			Link:      "/admin/refund-requests/" + req.ID.String(),
		}
		if err := s.dispatcher.Enqueue(ctx, jobAdminNotification, job); err != nil {
			s.logger.Error("failed to enqueue admin notification",
				zap.String("request_id", req.ID.String()),
				zap.String("admin_id", admin.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) emailTasker(ctx context.Context, req *domain.RefundRequest, tmpl notify.Template) {
	job := taskerEmailJob{
		TaskerID:      req.TaskerID,
		RequestID:     req.ID,
		Template:      tmpl,
		Amount:        req.Amount.String(),
		ReferenceCode: req.ReferenceCode,
		AdminNotes:    req.AdminNotes,
	}
	if err := s.dispatcher.Enqueue(ctx, jobTaskerEmail, job); err != nil {
		s.logger.Error("failed to enqueue tasker email",
			zap.String("request_id", req.ID.String()),
			zap.String("template", string(tmpl)),
			zap.Error(err),
		)
	}
}

func (s *Service) deliverAdminNotification(ctx context.Context, payload []byte) error {
	var job adminNotificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode admin notification: %w", err)
	}
	return s.repo.InsertNotification(ctx, &domain.Notification{
		ID:        uuid.New(),
		UserID:    job.AdminID,
		Type:      job.Type,
		Title:     job.Title,
		Body:      job.Body,
		Link:      job.Link,
		CreatedAt: s.now(),
	})
}

func (s *Service) deliverTaskerEmail(ctx context.Context, payload []byte) error {
	var job taskerEmailJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode tasker email: %w", err)
	}
	tasker, err := s.repo.GetUser(ctx, job.TaskerID)
	if err != nil {
		return fmt.Errorf("load tasker %s: %w", job.TaskerID, err)
	}
	msg, err := notify.Render(job.Template, tasker.Email, notify.RefundEmailData{
		TaskerName:    tasker.FullName,
		Amount:        job.Amount,
		ReferenceCode: job.ReferenceCode,
		AdminNotes:    job.AdminNotes,
	})
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}
