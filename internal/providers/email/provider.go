package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"go.uber.org/zap"
)

const TemplateInviteMember = "invite_member"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
	SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error
}

// Render executes one of the embedded templates.
func Render(templateName string, data any) (string, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return "", fmt.Errorf("render %s: %w", templateName, err)
	}
	return body.String(), nil
}

type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOpProvider {
	return &NoOpProvider{log: log.Named("providers.email.noop")}
}

func (p *NoOpProvider) Send(_ context.Context, msg Message) error {
	p.log.Info("email dropped", zap.Int("recipients", len(msg.To)), zap.String("subject", msg.Subject))
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error {
	body, err := Render(templateName, data)
	if err != nil {
		return err
	}
	return p.Send(ctx, Message{To: to, Subject: subject, HTMLBody: body})
}
