// Package mail sends invoice notifications with attachments over SMTP,
// papering over the authentication differences between providers.
package mail

import "context"

// Attachment is one file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a provider-agnostic email payload.
type Message struct {
	From        string
	To          string
	CC          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Transport is a configured channel capable of sending one email.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Verify(ctx context.Context) error
}
