package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Envelope is the JSON payload published for every outbound message
type Envelope struct {
	ID            string `json:"id"`
	ToPersonEmail string `json:"toPersonEmail,omitempty"`
	ToPersonID    string `json:"toPersonId,omitempty"`
	Text          string `json:"text"`
	FileName      string `json:"fileName,omitempty"`
	File          []byte `json:"file,omitempty"`
}

// NATSGateway bridges the bot to a chat relay over NATS: outbound messages
// are published on "<prefix>.outbound", inbound ones arrive on
// "<prefix>.inbound".
type NATSGateway struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials the NATS server
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSGateway creates a gateway on an established connection
func NewNATSGateway(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSGateway {
	return &NATSGateway{nc: nc, prefix: prefix, logger: logger.Named("nats")}
}

// OutboundSubject returns the subject outbound messages are published on
func (g *NATSGateway) OutboundSubject() string {
	return g.prefix + ".outbound"
}

// InboundSubject returns the subject inbound messages are read from
func (g *NATSGateway) InboundSubject() string {
	return g.prefix + ".inbound"
}

// Send publishes the message envelope
func (g *NATSGateway) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	env := Envelope{
		ID:            uuid.NewString(),
		ToPersonEmail: msg.ToPersonEmail,
		ToPersonID:    msg.ToPersonID,
		Text:          msg.Text,
	}
	if msg.FilePath != "" {
		data, err := os.ReadFile(msg.FilePath)
		if err != nil {
			return fmt.Errorf("failed to read attachment: %w", err)
		}
		env.FileName = filepath.Base(msg.FilePath)
		env.File = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := g.nc.Publish(g.OutboundSubject(), data); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Subscribe delivers every decodable inbound message to fn. Malformed
// payloads are logged and dropped.
func (g *NATSGateway) Subscribe(fn func(Inbound)) (*nats.Subscription, error) {
	sub, err := g.nc.Subscribe(g.InboundSubject(), func(m *nats.Msg) {
		var in Inbound
		if err := json.Unmarshal(m.Data, &in); err != nil {
			g.logger.Warn("Dropping malformed inbound message", zap.Error(err))
			return
		}
		if in.PersonEmail == "" {
			g.logger.Warn("Dropping inbound message without sender", zap.String("id", in.ID))
			return
		}
		fn(in)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", g.InboundSubject(), err)
	}
	return sub, nil
}
