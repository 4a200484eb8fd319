package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/engine"
)

// WhatsAppSender delivers outbound messages through the Cloud API.
type WhatsAppSender interface {
	SendText(ctx context.Context, to, text string) error
}

// whatsappSessionNS namespaces the deterministic session IDs derived from
// phone numbers, so a customer's WhatsApp thread maps to one session.
var whatsappSessionNS = uuid.MustParse("7d3f1a52-9c64-4e1b-8f2a-5b0e6d9c4a31")

type webhookHandler struct {
	responder   Responder
	sender      WhatsAppSender
	verifyToken string
	logger      *slog.Logger
}

// verify handles GET /webhook/whatsapp, the Cloud API subscription
// handshake: echo hub.challenge when the verify token matches.
func (h *webhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken || challenge == "" {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		writeError(w, http.StatusForbidden, "verification_failed", "verification failed", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		h.logger.Debug("writing challenge", "error", err)
	}
}

// Inbound webhook payload shapes, trimmed to the fields we read.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// receive handles POST /webhook/whatsapp. Each text message runs through
// the engine and the reply goes back over the Cloud API. Always answers
// 200 so Meta does not retry payloads we have already seen.
func (h *webhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("undecodable webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				h.handleMessage(r.Context(), msg)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *webhookHandler) handleMessage(ctx context.Context, msg inboundMessage) {
	if msg.Type != "text" || msg.Text.Body == "" {
		h.logger.Debug("skipping non-text message", "type", msg.Type, "from", msg.From)
		return
	}

	resp, err := h.responder.ProcessMessage(ctx, engine.Request{
		SessionID: sessionForPhone(msg.From),
		Message:   msg.Text.Body,
	})
	if err != nil {
		h.logger.Error("processing whatsapp message", "error", err, "from", msg.From)
		return
	}

	if err := h.sender.SendText(ctx, msg.From, resp.Reply); err != nil {
		h.logger.Error("sending whatsapp reply", "error", err, "to", msg.From)
	}
}

// sessionForPhone derives a stable session UUID from a phone number.
func sessionForPhone(phone string) uuid.UUID {
	return uuid.NewSHA1(whatsappSessionNS, []byte(phone))
}
