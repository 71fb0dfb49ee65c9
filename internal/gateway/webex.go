package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"feedbot/internal/config"
)

// WebexGateway talks to the Webex messages REST API
type WebexGateway struct {
	cfg    *config.BotConfig
	client *http.Client
}

// NewWebexGateway creates a new Webex gateway. Requests are bounded only
// by the caller's context; failed sends are reported, never retried.
func NewWebexGateway(cfg *config.BotConfig, client *http.Client) *WebexGateway {
	if client == nil {
		client = &http.Client{}
	}
	return &WebexGateway{
		cfg:    cfg,
		client: client,
	}
}

// Send posts a message, as multipart when a file is attached
func (g *WebexGateway) Send(ctx context.Context, msg Message) error {
	if msg.ToPersonEmail == "" && msg.ToPersonID == "" {
		return fmt.Errorf("message has no recipient")
	}

	var body io.Reader
	var contentType string
	var err error
	if msg.FilePath != "" {
		body, contentType, err = multipartBody(msg)
	} else {
		body, contentType, err = jsonBody(msg)
	}
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/messages", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

// GetMessage fetches a message by ID. Webhook notifications only carry
// the ID, never the text.
func (g *WebexGateway) GetMessage(ctx context.Context, id string) (*Inbound, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIURL+"/messages/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var in Inbound
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &in, nil
}

func jsonBody(msg Message) (io.Reader, string, error) {
	data := map[string]string{"markdown": msg.Text}
	if msg.ToPersonEmail != "" {
		data["toPersonEmail"] = msg.ToPersonEmail
	} else {
		data["toPersonId"] = msg.ToPersonID
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request data: %w", err)
	}
	return bytes.NewReader(jsonData), "application/json", nil
}

func multipartBody(msg Message) (io.Reader, string, error) {
	f, err := os.Open(msg.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if msg.ToPersonEmail != "" {
		_ = w.WriteField("toPersonEmail", msg.ToPersonEmail)
	} else {
		_ = w.WriteField("toPersonId", msg.ToPersonID)
	}
	if msg.Text != "" {
		_ = w.WriteField("markdown", msg.Text)
	}
	part, err := w.CreateFormFile("files", filepath.Base(msg.FilePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errorResp)
	detail := strings.TrimSpace(errorResp.Message)

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusBadRequest:
		if detail == "" {
			return ErrUnreachable
		}
		return fmt.Errorf("%w: %s", ErrUnreachable, detail)
	default:
		return fmt.Errorf("webex API error (status %d): %s", resp.StatusCode, detail)
	}
}
