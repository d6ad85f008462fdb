package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coalmine/coalmine/internal/config"
	"github.com/coalmine/coalmine/internal/model"
)

// FromConfig builds a handler Registry from the configured handler targets.
// The "log" type needs no URL; the webhook types resolve theirs from the
// environment at delivery time so key rotation needs no restart.
func FromConfig(handlers []config.HandlerConfig, client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	reg := NewRegistry()
	for _, hc := range handlers {
		var h Handler
		switch hc.Type {
		case "slack":
			h = &slackHandler{cfg: hc, client: client}
		case "teams":
			h = &teamsHandler{cfg: hc, client: client}
		case "webhook":
			h = &webhookHandler{cfg: hc, client: client}
		case "log":
			h = logHandler{}
		default:
			slog.Warn("notifier: unknown handler type — skipping", "handler", hc.Name, "type", hc.Type)
			continue
		}
		role := hc.Role
		if role == "" {
			role = "handler." + hc.Name
		}
		reg.Register(hc.Name, Entry{
			Handler: h,
			Role:    role,
			Permissions: []model.Permission{
				{Actions: []string{"http:Post"}, Resources: []string{"env:" + hc.URLEnv}},
			},
		})
	}
	return reg
}

// summary builds the one-line notification text shared by all webhook types.
func summary(n Notification) string {
	text := fmt.Sprintf("%s %s/%s (%s): %s",
		statusLabel(n.Result.Status), n.Result.Group, n.Result.Name,
		n.Result.Source, n.Result.Output)
	if msg := n.Check.Base().Message; msg != "" {
		text += " — " + msg
	}
	return text
}

type slackHandler struct {
	cfg    config.HandlerConfig
	client *http.Client
}

func (h *slackHandler) Notify(ctx context.Context, n Notification) error {
	body, _ := json.Marshal(map[string]string{
		"text": summary(n),
	})
	return post(ctx, h.client, h.cfg, body)
}

type teamsHandler struct {
	cfg    config.HandlerConfig
	client *http.Client
}

func (h *teamsHandler) Notify(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": statusColor(n.Result.Status),
		"summary":    fmt.Sprintf("%s/%s", n.Result.Group, n.Result.Name),
		"title":      fmt.Sprintf("Coalmine Alert: %s/%s", n.Result.Group, n.Result.Name),
		"text":       summary(n),
	}
	body, _ := json.Marshal(payload)
	return post(ctx, h.client, h.cfg, body)
}

type webhookHandler struct {
	cfg    config.HandlerConfig
	client *http.Client
}

func (h *webhookHandler) Notify(ctx context.Context, n Notification) error {
	body, _ := json.Marshal(map[string]interface{}{
		"env":         n.Env,
		"checkResult": n.Result.Message(),
		"message":     n.Check.Base().Message,
		"contacts":    n.Check.Base().Contacts,
	})
	return post(ctx, h.client, h.cfg, body)
}

// logHandler writes the notification to the structured log. Default target
// for checks without an external channel, and the workhorse in tests.
type logHandler struct{}

func (logHandler) Notify(_ context.Context, n Notification) error {
	slog.Info("notification",
		"group", n.Result.Group,
		"check", n.Result.Name,
		"source", n.Result.Source,
		"status", n.Result.Status,
		"output", n.Result.Output,
	)
	return nil
}

func post(ctx context.Context, client *http.Client, cfg config.HandlerConfig, body []byte) error {
	url := cfg.URL()
	if url == "" {
		return fmt.Errorf("handler %q: no URL in env %s", cfg.Name, cfg.URLEnv)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusCritical:
		return "[CRITICAL]"
	case model.StatusWarning:
		return "[WARNING]"
	case model.StatusOK:
		return "[OK]"
	default:
		return "[UNKNOWN]"
	}
}

func statusColor(s model.Status) string {
	switch s {
	case model.StatusCritical:
		return "FF4F6A"
	case model.StatusWarning:
		return "FFAB40"
	case model.StatusOK:
		return "2ECC71"
	default:
		return "9E9E9E"
	}
}
