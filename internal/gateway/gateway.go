// Package gateway sends chat messages through the configured messaging
// provider and defines the inbound message shape shared by the transports.
package gateway

import (
	"context"
	"errors"

	"feedbot/internal/metrics"
)

// ErrUnreachable is returned when the provider reports that the recipient
// does not exist or cannot be messaged.
var ErrUnreachable = errors.New("recipient unreachable")

// Message is an outbound chat message. Either ToPersonEmail or ToPersonID
// must be set; FilePath optionally attaches a local file.
type Message struct {
	ToPersonEmail string
	ToPersonID    string
	Text          string
	FilePath      string
}

// Inbound is a chat message received from a user
type Inbound struct {
	ID          string `json:"id"`
	PersonID    string `json:"personId,omitempty"`
	PersonEmail string `json:"personEmail"`
	RoomID      string `json:"roomId,omitempty"`
	Text        string `json:"text"`
}

// Gateway delivers messages. Send blocks until the provider accepted or
// rejected the message; it does not retry.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// Reason renders a delivery error for the chat user
func Reason(err error) string {
	if errors.Is(err, ErrUnreachable) {
		return ErrUnreachable.Error()
	}
	return err.Error()
}

type instrumented struct {
	next     Gateway
	provider string
}

// Instrument wraps gw so every send is counted per provider and outcome
func Instrument(gw Gateway, provider string) Gateway {
	return &instrumented{next: gw, provider: provider}
}

func (g *instrumented) Send(ctx context.Context, msg Message) error {
	err := g.next.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.RecordGatewayMessage(g.provider, "sent")
	case errors.Is(err, ErrUnreachable):
		metrics.RecordGatewayMessage(g.provider, "unreachable")
	default:
		metrics.RecordGatewayMessage(g.provider, "error")
	}
	return err
}
