package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"feedbot/internal/metrics"
	"feedbot/internal/util"
)

const (
	signatureHeader = "X-Spark-Signature"
	maxWebhookBody  = 1 << 20
)

// webhookEvent is the notification Webex posts for a subscribed event.
// Message text is not included and has to be fetched.
type webhookEvent struct {
	ID       string `json:"id"`
	Resource string `json:"resource"`
	Event    string `json:"event"`
	Data     struct {
		ID          string `json:"id"`
		RoomID      string `json:"roomId"`
		PersonID    string `json:"personId"`
		PersonEmail string `json:"personEmail"`
	} `json:"data"`
}

// verifySignature rejects requests whose X-Spark-Signature is not the
// HMAC-SHA1 of the body under secret. An empty secret disables the check.
func verifySignature(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}

			if secret != "" && !validSignature(secret, body, r.Header.Get(signatureHeader)) {
				logger.Warn("Rejected webhook with invalid signature",
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", requestID(r.Context())))
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Malformed webhook payload", http.StatusBadRequest)
		return
	}

	if event.Resource != "messages" || event.Event != "created" || event.Data.ID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if util.NormalizeIdentifier(event.Data.PersonEmail) == util.NormalizeIdentifier(s.cfg.Bot.Email) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log := s.logger.With(zap.String("message_id", event.Data.ID), zap.String("request_id", requestID(r.Context())))

	msg, err := s.fetcher.GetMessage(r.Context(), event.Data.ID)
	if err != nil {
		log.Error("Failed to fetch webhook message", zap.Error(err))
		http.Error(w, "Failed to fetch message", http.StatusBadGateway)
		return
	}
	metrics.RecordInbound("webhook")

	if err := s.inbox.Submit(r.Context(), *msg); err != nil {
		log.Warn("Failed to queue message", zap.Error(err))
		http.Error(w, "Bot is not accepting messages", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
