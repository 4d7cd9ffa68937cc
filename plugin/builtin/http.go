//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package builtin ships the plugins bundled with the engine: HTTP requests,
// AI-assisted transforms, branching conditions and email delivery. They
// double as reference implementations of the plugin contract.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kianax/engine/plugin"
)

const httpDefaultTimeout = 30 * time.Second

// HTTPRequest performs an HTTP call configured by node parameters. The
// request body defaults to the gathered inputs when none is configured.
type HTTPRequest struct {
	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

// NewHTTPRequest creates the plugin with the default client.
func NewHTTPRequest() *HTTPRequest { return &HTTPRequest{} }

// ID implements plugin.Plugin.
func (*HTTPRequest) ID() string { return "kianax.http.request" }

// Metadata implements plugin.Plugin.
func (p *HTTPRequest) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:      p.ID(),
		Name:    "HTTP Request",
		Version: "1.0.0",
		Tags:    []string{"network"},
	}
}

// Schemas implements plugin.Plugin. Inputs are open: any upstream record can
// feed the request body.
func (*HTTPRequest) Schemas() plugin.Schemas {
	return plugin.Schemas{
		Outputs: map[string]plugin.PortSchema{
			"status":  {Label: "Status Code"},
			"body":    {Label: "Response Body"},
			"headers": {Label: "Response Headers"},
		},
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string"},
				"method":  map[string]any{"type": "string"},
				"headers": map[string]any{"type": "object"},
				"body":    map[string]any{},
			},
			"required": []any{"url"},
		},
	}
}

// Execute implements plugin.Plugin.
func (p *HTTPRequest) Execute(ctx context.Context, inv *plugin.Invocation) (map[string]any, error) {
	rawURL, _ := inv.Config["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("http request: missing url parameter")
	}
	method, _ := inv.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	payload := inv.Config["body"]
	if payload == nil && method != http.MethodGet && len(inv.Inputs) > 0 {
		payload = inv.Inputs
	}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("http request: encoding body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inv.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: httpDefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http request: reading response: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}
	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"body":    decoded,
		"headers": headers,
	}, nil
}
