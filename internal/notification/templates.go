package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"time"
)

const layout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto; padding: 24px;">
{{template "content" .}}
<p style="color: #6b7280; font-size: 12px; margin-top: 32px;">If you did not request this email you can safely ignore it.</p>
</body>
</html>`

var templates = map[string]string{
	KindVerification: `{{define "content"}}
<h1>Verify your email</h1>
<p>Hi {{.Name}},</p>
<p>Confirm your address to finish setting up your account.</p>
<p><a href="{{.Link}}" style="background: #2563eb; color: #fff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">Verify email</a></p>
<p>Or paste this code: <code>{{.Token}}</code></p>
<p>The link expires in {{.Expires}}.</p>
{{end}}`,
	KindPasswordReset: `{{define "content"}}
<h1>Reset your password</h1>
<p>Hi {{.Name}},</p>
<p>We received a request to reset your password.</p>
<p><a href="{{.Link}}" style="background: #dc2626; color: #fff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">Choose a new password</a></p>
<p>The link expires in {{.Expires}} and can be used once.</p>
{{end}}`,
	KindWelcome: `{{define "content"}}
<h1>Welcome aboard</h1>
<p>Hi {{.Name}},</p>
<p>Your account is ready.</p>
<p><a href="{{.Link}}" style="background: #16a34a; color: #fff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">Open your dashboard</a></p>
{{end}}`,
}

var subjects = map[string]string{
	KindVerification:  "Verify your email address",
	KindPasswordReset: "Reset your password",
	KindWelcome:       "Welcome!",
}

var tags = map[string][]string{
	KindVerification:  {"transactional", "security"},
	KindPasswordReset: {"security"},
	KindWelcome:       {"transactional"},
}

var parsed = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(templates))
	for kind, body := range templates {
		out[kind] = template.Must(template.Must(template.New(kind).Parse(layout)).Parse(body))
	}
	return out
}()

type templateData struct {
	Subject string
	Name    string
	Link    string
	Token   string
	Expires string
}

// Render builds the email for a job.
func Render(job Job) (Email, error) {
	tmpl, ok := parsed[job.Kind]
	if !ok {
		return Email{}, fmt.Errorf("unknown email kind %q", job.Kind)
	}

	data := templateData{
		Subject: subjects[job.Kind],
		Name:    job.To.Name,
		Link:    job.Link,
		Token:   job.Token,
		Expires: humanizeTTL(job.TTL),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s email: %w", job.Kind, err)
	}

	return Email{
		To:      job.To,
		Subject: data.Subject,
		HTML:    buf.String(),
		Tags:    tags[job.Kind],
	}, nil
}

func humanizeTTL(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d >= time.Hour:
		h := int(math.Round(d.Hours()))
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		m := int(math.Round(d.Minutes()))
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
}
