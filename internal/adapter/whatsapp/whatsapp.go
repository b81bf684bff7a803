// Package whatsapp implements the outbound channel adapter for the WhatsApp
// Cloud API.
package whatsapp

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

// Adapter sends messages through the WhatsApp Cloud API. Credentials come
// from the tenant's channel config: "phone_number_id" and "access_token".
type Adapter struct {
	graphURL   string
	httpClient *http.Client
}

// New creates a WhatsApp adapter against the production Graph API.
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
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound, sc channel.SendContext) (*channel.SendResult, error) {
	phoneNumberID, _ := sc.ChannelConfig["phone_number_id"].(string)
	accessToken, _ := sc.ChannelConfig["access_token"].(string)
	if phoneNumberID == "" || accessToken == "" {
		return nil, fmt.Errorf("whatsapp: channel config for tenant %s missing phone_number_id or access_token", sc.TenantID)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                out.To,
	}
	switch {
	case out.Content.Media != nil:
		kind := mediaKind(out.Content.Media.MimeType)
		media := map[string]any{"link": out.Content.Media.URL}
		if out.Content.Media.Caption != "" {
			media["caption"] = out.Content.Media.Caption
		}
		payload["type"] = kind
		payload[kind] = media
	case out.Content.Location != nil:
		payload["type"] = "location"
		payload["location"] = map[string]any{
			"latitude":  out.Content.Location.Lat,
			"longitude": out.Content.Location.Lng,
			"name":      out.Content.Location.Name,
		}
	default:
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": out.Content.Text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.graphURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("whatsapp decode response: %w", err)
	}

	result := &channel.SendResult{Raw: sr}
	if len(sr.Messages) > 0 {
		result.ExternalID = sr.Messages[0].ID
	}
	return result, nil
}

func mediaKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}
