package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsoleGateway prints messages instead of sending them. Used in
// development.
type ConsoleGateway struct {
	out    io.Writer
	logger *zap.Logger
	mu     sync.Mutex
}

// NewConsoleGateway creates a console gateway writing to out (stdout when nil)
func NewConsoleGateway(out io.Writer, logger *zap.Logger) *ConsoleGateway {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleGateway{out: out, logger: logger.Named("console")}
}

// Send prints the message; Markdown attachments are rendered
func (g *ConsoleGateway) Send(ctx context.Context, msg Message) error {
	to := msg.ToPersonEmail
	if to == "" {
		to = msg.ToPersonID
	}
	g.logger.Debug("Message would be sent", zap.String("to", to), zap.Bool("attachment", msg.FilePath != ""))

	g.mu.Lock()
	defer g.mu.Unlock()

	fmt.Fprintf(g.out, "[MESSAGE] to %s:\n%s\n", to, msg.Text)
	if msg.FilePath == "" {
		return nil
	}

	data, err := os.ReadFile(msg.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	rendered := string(data)
	if filepath.Ext(msg.FilePath) == ".md" {
		if out, err := glamour.Render(rendered, "notty"); err == nil {
			rendered = out
		}
	}
	fmt.Fprintf(g.out, "[ATTACHMENT] %s\n%s\n", filepath.Base(msg.FilePath), rendered)
	return nil
}

// ScanInbound reads "sender: text" lines from r and passes each as an
// inbound message to fn until ctx is cancelled. Malformed lines are
// skipped. Reaching EOF does not end the scan early.
func (g *ConsoleGateway) ScanInbound(ctx context.Context, r io.Reader, fn func(Inbound)) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			sender, text, found := strings.Cut(line, ":")
			sender = strings.TrimSpace(sender)
			if !found || sender == "" {
				g.logger.Warn("Expected <sender>: <text>", zap.String("line", line))
				continue
			}
			fn(Inbound{ID: uuid.NewString(), PersonEmail: sender, Text: strings.TrimSpace(text)})
		}
	}
}
