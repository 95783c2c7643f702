package notify

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRenderTemplates(t *testing.T) {
	t.Parallel()

	data := RefundEmailData{TaskerName: "Ada", Amount: "150", ReferenceCode: "REF-ABC-123"}

	tests := []struct {
		name        string
		template    Template
		notes       string
		subject     string
		bodyContain []string
		bodyOmit    string
	}{
		{
			name:        "approved without notes",
			template:    TemplateRefundApproved,
			subject:     "Refund REF-ABC-123 approved",
			bodyContain: []string{"Hi Ada", "REF-ABC-123", "150"},
			bodyOmit:    "Note from our team",
		},
		{
			name:        "approved with notes",
			template:    TemplateRefundApproved,
			notes:       "paid via bank transfer",
			subject:     "Refund REF-ABC-123 approved",
			bodyContain: []string{"Note from our team: paid via bank transfer"},
		},
		{
			name:        "rejected",
			template:    TemplateRefundRejected,
			notes:       "receipt unreadable",
			subject:     "Refund REF-ABC-123 rejected",
			bodyContain: []string{"Reason: receipt unreadable", "has not changed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := data
			d.AdminNotes = tt.notes
			msg, err := Render(tt.template, "ada@example.com", d)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if msg.To != "ada@example.com" || msg.Subject != tt.subject {
				t.Fatalf("unexpected header %q / %q", msg.To, msg.Subject)
			}
			for _, want := range tt.bodyContain {
				if !strings.Contains(msg.Body, want) {
					t.Errorf("body missing %q:\n%s", want, msg.Body)
				}
			}
			if tt.bodyOmit != "" && strings.Contains(msg.Body, tt.bodyOmit) {
				t.Errorf("body should not contain %q", tt.bodyOmit)
			}
		})
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	if _, err := Render("missing", "x@example.com", RefundEmailData{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestLogMailer(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))
	if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Template: TemplateRefundApproved}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if logs.FilterField(zap.String("to", "a@example.com")).Len() != 1 {
		t.Fatal("expected one logged email")
	}
}

func TestKafkaMailerRequiresBrokers(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaMailer(nil, "refund.emails"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaMailer([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}
}
