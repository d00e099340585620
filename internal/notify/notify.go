// Package notify carries job completion summaries to the notification
// delivery subsystem.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Message is a completion summary handed to the delivery subsystem.
type Message struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Priority string   `json:"priority"`
	Tags     []string `json:"tags"`
}

// Sender delivers a message. Failures never escalate to job bookkeeping;
// the engine logs and swallows them.
type Sender interface {
	Send(msg Message) error
}

// WebhookSender POSTs the summary as JSON to a configured endpoint.
type WebhookSender struct {
	URL    string
	Client *http.Client
	Logger zerolog.Logger
}

func NewWebhookSender(url string, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger.With().Str("component", "notify").Logger(),
	}
}

func (w *WebhookSender) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %s", resp.Status)
	}
	w.Logger.Debug().Str("title", msg.Title).Str("priority", msg.Priority).Msg("Notification delivered")
	return nil
}

// LogSender is the fallback when no webhook is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (l *LogSender) Send(msg Message) error {
	l.Logger.Info().
		Str("title", msg.Title).
		Str("priority", msg.Priority).
		Strs("tags", msg.Tags).
		Msg(msg.Body)
	return nil
}
