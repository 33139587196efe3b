package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/chat"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// maxChatKeyLen bounds client supplied chat keys.
const maxChatKeyLen = 256

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  *store.Store
	chat   *chat.Service
	peers  []string
	logger zerolog.Logger
}

// NewHandler creates a new Handler. chat may be nil on nodes that only serve
// the peer protocol.
func NewHandler(st *store.Store, svc *chat.Service, peers []string, logger zerolog.Logger) *Handler {
	return &Handler{store: st, chat: svc, peers: peers, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Text sends a plain text response.
func (h *Handler) Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// sanitizeChatKey trims the key and rejects control characters and
// oversized keys.
func sanitizeChatKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxChatKeyLen {
		return "", false
	}
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return "", false
	}
	return key, true
}
