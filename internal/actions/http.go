package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
)

// HTTPHandler delivers submission data to external HTTP endpoints. URL,
// headers and body all support {field} placeholders.
type HTTPHandler struct {
	client *http.Client
}

func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Execute(ctx context.Context, inv *Invocation) (Result, error) {
	var cfg domain.HTTPActionConfig
	if err := inv.Action.DecodeConfig(&cfg); err != nil {
		return Result{}, fmt.Errorf("invalid http action config: %w", err)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	url := expandTemplate(cfg.URL, inv)

	var body io.Reader
	if cfg.BodyTemplate != "" {
		body = strings.NewReader(expandTemplate(cfg.BodyTemplate, inv))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Result{}, err
	}
	if cfg.BodyTemplate != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, tmpl := range cfg.HeaderTemplate {
		req.Header.Set(name, expandTemplate(tmpl, inv))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	// A short excerpt of the response is kept for the audit trail.
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%s %s returned %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return Result{Success: true, Message: fmt.Sprintf("%s %s returned %d", method, url, resp.StatusCode)}, nil
}
