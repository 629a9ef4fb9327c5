package wpp

import (
	"encoding/base64"
	"strings"
)

// Message event types accepted from the webhook.
const (
	TypeChat = "chat"
	TypePTT  = "ptt"
)

// Event is one inbound WPPConnect webhook payload. Fields beyond these are
// ignored; the gateway sends a large superset.
type Event struct {
	Event    string `json:"event"`
	Session  string `json:"session"`
	Type     string `json:"type"`
	Body     string `json:"body"`
	IsNewMsg bool   `json:"isNewMsg"`
	From     string `json:"from"`
	Sender   Sender `json:"sender"`
}

// Sender identifies the message author.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"pushname"`
}

// SenderID returns the chat ID to reply to, preferring the explicit sender
// field over the conversation field.
func (e *Event) SenderID() string {
	if e.Sender.ID != "" {
		return e.Sender.ID
	}
	return e.From
}

// Actionable reports whether the event is a fresh user message the service
// should process. Status broadcasts, delivery acks, and group chatter fall
// through here.
func (e *Event) Actionable() bool {
	if e.Event != "onmessage" || !e.IsNewMsg {
		return false
	}
	if e.Type != TypeChat && e.Type != TypePTT {
		return false
	}
	if e.SenderID() == "" {
		return false
	}
	return true
}

// Audio decodes the base64 voice-note payload carried in Body. WPPConnect
// may prefix it with a data URL header.
func (e *Event) Audio() ([]byte, error) {
	body := e.Body
	if idx := strings.Index(body, ","); idx >= 0 && strings.HasPrefix(body, "data:") {
		body = body[idx+1:]
	}
	return base64.StdEncoding.DecodeString(body)
}
