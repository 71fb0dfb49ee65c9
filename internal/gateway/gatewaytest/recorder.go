// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"os"
	"sync"

	"feedbot/internal/gateway"
)

// Sent is a recorded message. Attachment holds the file content read at
// send time, since callers remove transient files afterwards.
type Sent struct {
	gateway.Message
	Attachment string
}

// Recorder records sent messages and fails sends to configured recipients
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	fail map[string]error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailFor makes every send to recipient return err
func (r *Recorder) FailFor(recipient string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[recipient] = err
}

// Send implements gateway.Gateway
func (r *Recorder) Send(ctx context.Context, msg gateway.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := msg.ToPersonEmail
	if to == "" {
		to = msg.ToPersonID
	}
	if err, ok := r.fail[to]; ok {
		return err
	}

	s := Sent{Message: msg}
	if msg.FilePath != "" {
		data, err := os.ReadFile(msg.FilePath)
		if err != nil {
			return err
		}
		s.Attachment = string(data)
	}
	r.sent = append(r.sent, s)
	return nil
}

// Sent returns a copy of all successfully sent messages
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// To returns the messages sent to recipient
func (r *Recorder) To(recipient string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.ToPersonEmail == recipient || s.ToPersonID == recipient {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the last message sent to recipient, or nil
func (r *Recorder) Last(recipient string) *Sent {
	msgs := r.To(recipient)
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

// Reset forgets all recorded messages
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
