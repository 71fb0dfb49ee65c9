package gateway

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsoleGateway_PrintsTextAndAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.md")
	require.NoError(t, os.WriteFile(path, []byte("# How are we doing?\n\n1. Great\n"), 0o600))

	var buf bytes.Buffer
	gw := NewConsoleGateway(&buf, zap.NewNop())

	require.NoError(t, gw.Send(context.Background(), Message{ToPersonEmail: "c@x.com", Text: "Answers", FilePath: path}))

	out := buf.String()
	assert.Contains(t, out, "[MESSAGE] to c@x.com")
	assert.Contains(t, out, "[ATTACHMENT] answers.md")
	assert.Contains(t, out, "Great")
}

func TestConsoleGateway_MissingAttachment(t *testing.T) {
	gw := NewConsoleGateway(&bytes.Buffer{}, zap.NewNop())
	err := gw.Send(context.Background(), Message{ToPersonEmail: "c@x.com", FilePath: "/nonexistent/file.md"})
	assert.Error(t, err)
}

func TestInstrument_PassesThroughErrors(t *testing.T) {
	gw := Instrument(failing{err: ErrUnreachable}, "test")
	assert.ErrorIs(t, gw.Send(context.Background(), Message{ToPersonEmail: "a@x.com"}), ErrUnreachable)

	gw = Instrument(failing{}, "test")
	assert.NoError(t, gw.Send(context.Background(), Message{ToPersonEmail: "a@x.com"}))
}

type failing struct{ err error }

func (f failing) Send(context.Context, Message) error { return f.err }

func TestConsoleGateway_ScanInbound(t *testing.T) {
	gw := NewConsoleGateway(&bytes.Buffer{}, zap.NewNop())
	input := strings.NewReader("c@x.com: list customers\nno separator\n a@x.com :Great: really\n")

	ctx, cancel := context.WithCancel(context.Background())
	var got []Inbound
	done := make(chan error, 1)
	go func() {
		done <- gw.ScanInbound(ctx, input, func(in Inbound) {
			got = append(got, in)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	require.NoError(t, <-done)
	require.Len(t, got, 2)
	assert.Equal(t, "c@x.com", got[0].PersonEmail)
	assert.Equal(t, "list customers", got[0].Text)
	assert.Equal(t, "a@x.com", got[1].PersonEmail)
	assert.Equal(t, "Great: really", got[1].Text)
	assert.NotEmpty(t, got[1].ID)
}
