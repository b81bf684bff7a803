// Package messenger implements the outbound channel adapter for the Facebook
// Messenger Send API.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/port/channel"
)

const defaultGraphURL = "https://graph.facebook.com/v19.0"

// Adapter sends messages through the Messenger Send API. The tenant's channel
// config must provide "page_access_token".
type Adapter struct {
	graphURL   string
	httpClient *http.Client
}

// New creates a Messenger adapter against the production Graph API.
func New() *Adapter {
	return &Adapter{
		graphURL:   defaultGraphURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithBaseURL creates an adapter against a custom Graph API base URL.
func NewWithBaseURL(baseURL string) *Adapter {
	a := New()
	a.graphURL = baseURL
	return a
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound, sc channel.SendContext) (*channel.SendResult, error) {
	token, _ := sc.ChannelConfig["page_access_token"].(string)
	if token == "" {
		return nil, fmt.Errorf("messenger: channel config for tenant %s missing page_access_token", sc.TenantID)
	}

	var msg map[string]any
	if out.Content.Media != nil {
		msg = map[string]any{
			"attachment": map[string]any{
				"type":    attachmentType(out.Content.Media.MimeType),
				"payload": map[string]any{"url": out.Content.Media.URL, "is_reusable": true},
			},
		}
	} else {
		msg = map[string]any{"text": out.Content.Text}
	}

	body, err := json.Marshal(map[string]any{
		"recipient":      map[string]any{"id": out.To},
		"messaging_type": "RESPONSE",
		"message":        msg,
	})
	if err != nil {
		return nil, fmt.Errorf("messenger marshal: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", a.graphURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("messenger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messenger send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("messenger API %d: %s", resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("messenger decode response: %w", err)
	}

	return &channel.SendResult{ExternalID: sr.MessageID, Raw: sr}, nil
}

func attachmentType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "file"
	}
}
