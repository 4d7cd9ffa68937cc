//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kianax/engine/plugin"
)

const emailCredentialID = "smtp"

// sendMailFunc matches smtp.SendMail, split out for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers a message over SMTP using a mapped "smtp" credential
// carrying host, port, username and password.
type Email struct {
	send sendMailFunc
}

// NewEmail creates the plugin.
func NewEmail() *Email { return &Email{send: smtp.SendMail} }

// ID implements plugin.Plugin.
func (*Email) ID() string { return "kianax.notify.email" }

// Metadata implements plugin.Plugin.
func (p *Email) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:      p.ID(),
		Name:    "Send Email",
		Version: "1.0.0",
		Tags:    []string{"notify"},
		CredentialRequirements: []plugin.CredentialRequirement{
			{ID: emailCredentialID, Required: true},
		},
	}
}

// Schemas implements plugin.Plugin.
func (*Email) Schemas() plugin.Schemas {
	return plugin.Schemas{
		Inputs: map[string]plugin.PortSchema{
			"subject": {Label: "Subject", Schema: map[string]any{"type": "string"}},
			"body":    {Label: "Body"},
		},
		Outputs: map[string]plugin.PortSchema{
			"sent":       {Label: "Sent", Schema: map[string]any{"type": "boolean"}},
			"recipients": {Label: "Recipients", Schema: map[string]any{"type": "array"}},
		},
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{},
				"subject": map[string]any{"type": "string"},
				"body":    map[string]any{"type": "string"},
			},
			"required": []any{"to"},
		},
	}
}

// Execute implements plugin.Plugin.
func (p *Email) Execute(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
	cred, ok := inv.Context.Credentials[emailCredentialID]
	if !ok {
		return nil, fmt.Errorf("email: credential %q not loaded", emailCredentialID)
	}
	host, _ := cred["host"].(string)
	username, _ := cred["username"].(string)
	password, _ := cred["password"].(string)
	if host == "" {
		return nil, fmt.Errorf("email: credential %q has no host", emailCredentialID)
	}
	port := "587"
	if pv, ok := cred["port"]; ok {
		port = fmt.Sprint(pv)
	}
	from, _ := cred["from"].(string)
	if from == "" {
		from = username
	}

	to := recipients(inv.Config["to"])
	if len(to) == 0 {
		return nil, fmt.Errorf("email: missing to parameter")
	}

	subject, _ := inv.Config["subject"].(string)
	if subject == "" {
		subject, _ = inv.Inputs["subject"].(string)
	}
	body, _ := inv.Config["body"].(string)
	if body == "" {
		body = fmt.Sprint(inv.Inputs["body"])
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	if err := p.send(addr, auth, from, to, []byte(msg.String())); err != nil {
		return nil, fmt.Errorf("email: sending via %s: %w", addr, err)
	}

	sentTo := make([]any, len(to))
	for i, r := range to {
		sentTo[i] = r
	}
	return map[string]any{"sent": true, "recipients": sentTo}, nil
}

// recipients accepts a single address or a list.
func recipients(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		parts := strings.Split(x, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	default:
		return nil
	}
}
