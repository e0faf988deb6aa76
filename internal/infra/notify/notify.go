// Package notify delivers operator notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orderflow/internal/ports"

	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog/log"
)

const ErrCodeWebhookFailed = "NOTIFY_WEBHOOK_FAILED"

var (
	_ ports.Notifier = LogNotifier{}
	_ ports.Notifier = (*Webhook)(nil)
	_ ports.Notifier = Multi(nil)
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, message string) error {
	log.Ctx(ctx).Info().Str("notification", message).Msg("operator notification")
	return nil
}

// Webhook posts {"text": message} to a chat-style incoming webhook.
type Webhook struct {
	URL  string
	HTTP *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "webhook request failed").
			WithTextCode(ErrCodeWebhookFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return goerrors.New(fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), goerrors.CategoryExternal).
			WithTextCode(ErrCodeWebhookFailed).
			WithMetadata(map[string]any{"status": resp.StatusCode})
	}
	return nil
}

// Multi fans a notification out to every notifier. All of them are tried;
// the errors are joined.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
