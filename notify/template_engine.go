package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
)

// TemplateEngine renders email templates
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: template.FuncMap{
			"upper": strings.ToUpper,
		},
	}
}

// Render renders an email template for the given recipient.
func (te *TemplateEngine) Render(tmpl EmailTemplate, to string, data any) (*EmailMessage, error) {
	message := &EmailMessage{
		To:        to,
		FromEmail: tmpl.FromEmail,
	}

	fromName, err := te.renderText(tmpl.FromName, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render sender name: %v", ErrTemplateRender, err)
	}
	message.FromName = fromName

	subject, err := te.renderText(tmpl.Subject, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render subject: %v", ErrTemplateRender, err)
	}
	message.Subject = subject

	textBody, err := te.renderText(tmpl.TextBody, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render text body: %v", ErrTemplateRender, err)
	}
	message.TextBody = textBody

	if tmpl.HTMLBody != "" {
		htmlBody, err := te.renderHTML(tmpl.HTMLBody, data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to render HTML body: %v", ErrTemplateRender, err)
		}
		message.HTMLBody = htmlBody
	}

	return message, nil
}

func (te *TemplateEngine) renderText(src string, data any) (string, error) {
	tmpl, err := template.New("email").Funcs(te.funcMap).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderHTML escapes user supplied values such as names.
func (te *TemplateEngine) renderHTML(src string, data any) (string, error) {
	tmpl, err := htmltemplate.New("email").Funcs(htmltemplate.FuncMap(te.funcMap)).Parse(src)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
