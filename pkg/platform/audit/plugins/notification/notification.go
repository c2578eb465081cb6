// Package notification alerts a human about high-severity audit events.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode"

	audit "ozhi/pkg/platform/audit"
)

const Name = "notification"

// Notification is a rendered alert.
type Notification struct {
	Subject   string
	HTML      string
	Severity  audit.Severity
	Action    string
	RequestID string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

var bodyTemplate = template.Must(template.New("alert").Parse(`<h2>Audit Event Detected</h2>
<p><strong>Action:</strong> {{.Action}}</p>
<p><strong>Category:</strong> {{.Category}}</p>
<p><strong>Severity:</strong> {{.Severity}}</p>
<p><strong>Result:</strong> {{.Result}}</p>
<p><strong>User:</strong> {{.User}}</p>
<p><strong>Timestamp:</strong> {{.Timestamp}}</p>
{{- if .Error}}
<p><strong>Error:</strong> {{.Error}}</p>
{{- end}}
{{- if .Target}}
<p><strong>Target:</strong> {{.Target}}</p>
{{- end}}
`))

type bodyData struct {
	Action    string
	Category  audit.Category
	Severity  audit.Severity
	Result    audit.Result
	User      string
	Timestamp string
	Error     string
	Target    string
}

// Plugin is a post-hook sending a notification for events at or above a threshold.
type Plugin struct {
	notifier  Notifier
	threshold audit.Severity
}

// Option configures the Plugin.
type Option func(*Plugin)

// WithThreshold sets the minimum severity that triggers a notification. Default high.
func WithThreshold(s audit.Severity) Option {
	return func(p *Plugin) {
		if s.Valid() {
			p.threshold = s
		}
	}
}

func New(notifier Notifier, opts ...Option) (*Plugin, error) {
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	p := &Plugin{notifier: notifier, threshold: audit.SeverityHigh}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) AfterAudit(ctx context.Context, event audit.Event) error {
	if !event.Severity.AtLeast(p.threshold) {
		return nil
	}

	n, err := Render(event)
	if err != nil {
		return err
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// Render builds the notification for event.
func Render(event audit.Event) (Notification, error) {
	data := bodyData{
		Action:    event.Action,
		Category:  event.Category,
		Severity:  event.Severity,
		Result:    event.Result,
		User:      describeUser(event.Context),
		Timestamp: event.Context.Timestamp.UTC().Format(time.RFC3339),
		Error:     event.Error,
	}
	if event.Target != nil {
		data.Target = fmt.Sprintf("%s (%s)", event.Target.Type, event.Target.ID)
	}

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return Notification{}, fmt.Errorf("render notification: %w", err)
	}

	return Notification{
		Subject:   fmt.Sprintf("[%s] Audit Alert: %s", strings.ToUpper(string(event.Severity)), event.Action),
		HTML:      body.String(),
		Severity:  event.Severity,
		Action:    event.Action,
		RequestID: event.Context.RequestID,
	}, nil
}

// describeUser prefers the e-mail carried in the user snapshot, falling back to the user ID.
func describeUser(c audit.Context) string {
	if addr := userEmail(c.User); addr != "" {
		if name := nameFromEmail(addr); name != "" {
			return fmt.Sprintf("%s <%s>", name, addr)
		}
		return addr
	}
	if c.UserID != "" {
		return c.UserID
	}
	return "Unknown"
}

func userEmail(user any) string {
	switch u := user.(type) {
	case map[string]any:
		if s, ok := u["email"].(string); ok {
			return s
		}
	case map[string]string:
		return u["email"]
	case interface{ GetEmail() string }:
		return u.GetEmail()
	}
	return ""
}

// nameFromEmail turns "jane.doe+x@example.com" into "Jane Doe X" from the local part.
func nameFromEmail(addr string) string {
	local, _, _ := strings.Cut(addr, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
