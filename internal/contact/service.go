package contact

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
)

const maxMessageLength = 5000

// Request is the body of POST /api/contact
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

var emailTemplate = template.Must(template.New("contact").Parse(`<h2>New contact form submission</h2>
<p><strong>Name:</strong> {{.Name}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
{{if .Company}}<p><strong>Company:</strong> {{.Company}}</p>
{{end}}<p><strong>Subject:</strong> {{.Subject}}</p>
<p><strong>Message:</strong></p>
<p style="white-space: pre-wrap">{{.Message}}</p>
`))

// Service validates contact submissions and forwards them
type Service struct {
	mailer    Mailer
	recipient string
	logger    *zap.Logger
}

// NewService creates a contact service delivering to recipient.
func NewService(mailer Mailer, recipient string, logger *zap.Logger) *Service {
	return &Service{mailer: mailer, recipient: recipient, logger: logger}
}

// Validate trims req and reports every missing or malformed field.
func (r *Request) Validate() []apperrors.FieldError {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Company = strings.TrimSpace(r.Company)
	r.Subject = strings.TrimSpace(r.Subject)
	r.Message = strings.TrimSpace(r.Message)

	var fields []apperrors.FieldError
	required := func(field, value string) {
		if value == "" {
			fields = append(fields, apperrors.FieldError{Field: field, Code: "required", Message: field + " is required"})
		}
	}
	required("name", r.Name)
	required("email", r.Email)
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			fields = append(fields, apperrors.FieldError{Field: "email", Code: "format", Message: "email is invalid"})
		}
	}
	required("subject", r.Subject)
	required("message", r.Message)
	if len(r.Message) > maxMessageLength {
		fields = append(fields, apperrors.FieldError{Field: "message", Code: "max", Message: fmt.Sprintf("message must be at most %d characters", maxMessageLength)})
	}
	return fields
}

// Submit sends req to the configured recipient.
func (s *Service) Submit(ctx context.Context, req Request) error {
	if fields := req.Validate(); len(fields) > 0 {
		return apperrors.InvalidFields(fields)
	}
	if s.recipient == "" {
		return apperrors.Internal("Contact form is not available", fmt.Errorf("contact recipient not configured"))
	}

	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, req); err != nil {
		return apperrors.Internal("Unable to send message", err)
	}

	msg := Message{
		To:      s.recipient,
		ReplyTo: req.Email,
		Subject: "Contact form: " + req.Subject,
		HTML:    body.String(),
		Text:    fmt.Sprintf("From: %s <%s>\nCompany: %s\n\n%s", req.Name, req.Email, req.Company, req.Message),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return apperrors.Internal("Unable to send message", err)
	}

	s.logger.Info("Contact form delivered", zap.String("subject", req.Subject))
	return nil
}
