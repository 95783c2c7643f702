package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

type Template string

const (
	TemplateRefundApproved Template = "refund_approved"
	TemplateRefundRejected Template = "refund_rejected"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Template Template `json:"template"`
}

// RefundEmailData feeds both refund templates.
type RefundEmailData struct {
	TaskerName    string
	Amount        string
	ReferenceCode string
	AdminNotes    string
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[Template]emailTemplate{
	TemplateRefundApproved: {
		subject: template.Must(template.New("subject").Parse(`Refund {{.ReferenceCode}} approved`)),
		body: template.Must(template.New("body").Parse(`Hi {{.TaskerName}},

Your refund request {{.ReferenceCode}} for {{.Amount}} has been approved and deducted from your wallet.
{{- if .AdminNotes}}

Note from our team: {{.AdminNotes}}
{{- end}}
`)),
	},
	TemplateRefundRejected: {
		subject: template.Must(template.New("subject").Parse(`Refund {{.ReferenceCode}} rejected`)),
		body: template.Must(template.New("body").Parse(`Hi {{.TaskerName}},

Your refund request {{.ReferenceCode}} for {{.Amount}} was rejected.

Reason: {{.AdminNotes}}

Your wallet balance has not changed. You can submit a new request at any time.
`)),
	},
}

// Render fills the named template for one recipient.
func Render(name Template, to string, data RefundEmailData) (Message, error) {
	t, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Message{To: to, Subject: subject.String(), Body: body.String(), Template: name}, nil
}
