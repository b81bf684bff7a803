// Package message defines the normalized message model exchanged with the
// broker and with channel adapters.
package message

import "time"

// Direction indicates whether a message flows into or out of the platform.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Type is the content type of a normalized message.
type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
	TypeDocument Type = "document"
	TypeLocation Type = "location"
)

// Media describes a media attachment (image, audio, video, document).
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Location describes a geographic point.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
}

// Content is the polymorphic body of a normalized message. Exactly one of
// Text, Media, or Location is set depending on the message type.
type Content struct {
	Text     string    `json:"text,omitempty"`
	Media    *Media    `json:"media,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Normalized is the channel-agnostic wire unit for a single chat message.
// It is JSON-serialized onto the broker and handed to channel adapters.
type Normalized struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	Direction      Direction      `json:"direction"`
	From           string         `json:"from"`
	Timestamp      Timestamp      `json:"timestamp"`
	Type           Type           `json:"type"`
	Content        Content        `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Text returns the plain-text body, or "" for non-text messages.
func (m *Normalized) Text() string {
	return m.Content.Text
}

// Outbound is the ephemeral handoff object passed to a channel adapter.
type Outbound struct {
	To                     string         `json:"to"`
	Content                Content        `json:"content"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	ConversationExternalID string         `json:"conversation_external_id,omitempty"`
}

// Timestamp is a lenient wrapper around time.Time. Channel integrations send
// timestamps as RFC 3339 strings or epoch numbers; anything unparsable
// unmarshals to the zero value and is coerced to "now" at the persistence
// boundary.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps a concrete time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}
