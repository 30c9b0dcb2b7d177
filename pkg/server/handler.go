package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/whatsgate/whatsgate/pkg/bus"
	"github.com/whatsgate/whatsgate/pkg/logger"
)

// Messenger is the slice of the WhatsApp client the HTTP surface needs.
type Messenger interface {
	SendText(ctx context.Context, to, message string) (string, error)
	IsReady() bool
	Info() map[string]interface{}
	QR() string
}

// Correlator registers reply waits on behalf of /send.
type Correlator interface {
	WaitForReply(ctx context.Context, to, correlationID, callbackURL string, timeout time.Duration) (*bus.InboundEvent, error)
	NotifyReply(to, correlationID, callbackURL string, timeout time.Duration)
}

type Handler struct {
	client Messenger
	waits  Correlator
}

func NewHandler(client Messenger, waits Correlator) *Handler {
	return &Handler{client: client, waits: waits}
}

type sendRequest struct {
	To          string          `json:"to"`
	Message     string          `json:"message"`
	Timeout     json.RawMessage `json:"timeout,omitempty"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	Callback    string          `json:"callback,omitempty"`
	Wait        bool            `json:"wait,omitempty"`
}

// callback returns the first non-empty of the two accepted aliases.
func (r *sendRequest) callback() string {
	if strings.TrimSpace(r.CallbackURL) != "" {
		return strings.TrimSpace(r.CallbackURL)
	}
	return strings.TrimSpace(r.Callback)
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, `Missing "to" or "message" in JSON body`)
		return
	}

	if !h.client.IsReady() {
		writeError(w, http.StatusServiceUnavailable, "WhatsApp client not ready. Please check the server logs and scan the QR code if needed.")
		return
	}

	id, err := h.client.SendText(r.Context(), req.To, req.Message)
	if err != nil {
		logger.ErrorCF("server", "Send failed", map[string]interface{}{
			"to":    req.To,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	timeout := ParseTimeout(req.Timeout)
	callback := req.callback()

	if req.Wait {
		// Block this request until the reply or the deadline. The webhook,
		// when also configured, is delivered from the correlation engine.
		ev, err := h.waits.WaitForReply(r.Context(), req.To, id, callback, timeout)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"ok": true, "id": id, "reply": nil,
			})
			return
		}
		var reply interface{}
		if ev != nil {
			reply = ev.Body
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "id": id, "reply": reply,
		})
		return
	}

	if callback != "" {
		h.waits.NotifyReply(req.To, id, callback, timeout)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": h.client.IsReady()})
}

func (h *Handler) HandleConnected(w http.ResponseWriter, _ *http.Request) {
	var info interface{}
	if m := h.client.Info(); m != nil {
		info = m
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": h.client.IsReady(),
		"info":      info,
	})
}

func (h *Handler) HandleQR(w http.ResponseWriter, _ *http.Request) {
	code := h.client.QR()
	if code == "" {
		writeError(w, http.StatusNotFound, "QR not available. Maybe already authenticated or not yet generated.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"qr": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
