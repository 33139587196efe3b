package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/replication"
)

// PushRequest represents a message submission.
type PushRequest struct {
	Chat string `json:"chat"`
	Data string `json:"data"`
}

// PushResponse carries the new message's node ID.
type PushResponse struct {
	Node string `json:"node"`
}

// PollRequest asks for index entries beyond the caller's known versions.
type PollRequest struct {
	Chat string            `json:"chat"`
	UIDs map[string]uint64 `json:"uids"`
}

// MessageRequest fetches a single message.
type MessageRequest struct {
	Chat string `json:"chat"`
	Node string `json:"node"`
}

// MessageResponse carries a message payload, null when no replica has it.
type MessageResponse struct {
	Node string  `json:"node"`
	Data *string `json:"data"`
}

// Push places a message in a chat.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		h.Error(w, http.StatusServiceUnavailable, "chat service not available")
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatKey, ok := sanitizeChatKey(req.Chat)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat key")
		return
	}

	ctx := replication.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	node, err := h.chat.PlaceMessage(ctx, chatKey, []byte(req.Data))
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("message placement failed")
		h.Error(w, http.StatusBadGateway, "message could not be stored on all replicas")
		return
	}

	h.JSON(w, http.StatusOK, PushResponse{Node: node})
}

// Poll long-polls a chat's index.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		h.Error(w, http.StatusServiceUnavailable, "chat service not available")
		return
	}

	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatKey, ok := sanitizeChatKey(req.Chat)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat key")
		return
	}

	ctx := replication.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	update, err := h.chat.PollIndex(ctx, chatKey, req.UIDs)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.Context().Err() != nil {
		return
	}
	if update.Entries == nil {
		update.Entries = []models.Entry{}
	}

	h.JSON(w, http.StatusOK, update)
}

// Message fetches one message's payload.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		h.Error(w, http.StatusServiceUnavailable, "chat service not available")
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatKey, ok := sanitizeChatKey(req.Chat)
	if !ok || req.Node == "" {
		h.Error(w, http.StatusBadRequest, "chat and node are required")
		return
	}

	ctx := replication.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	msg, err := h.chat.PollMessage(ctx, chatKey, req.Node)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := MessageResponse{Node: msg.Node}
	if msg.Payload != nil {
		data := string(msg.Payload)
		resp.Data = &data
	}
	h.JSON(w, http.StatusOK, resp)
}
