package gateway

import (
	"net/http"

	"github.com/flemzord/hafiza/internal/chat"
)

type conversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

type conversationResponse struct {
	chat.Conversation
	Messages []chat.Message `json:"messages"`
}

func (g *Gateway) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := g.chats.ListConversations(r.Context(), g.userOr(r.URL.Query().Get("user_id")))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if convs == nil {
			convs = []chat.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func (g *Gateway) handleCreateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		conv, err := g.chats.CreateConversation(r.Context(), g.userOr(req.UserID), chat.Title(req.Title))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

// handleGetConversation returns the conversation with its transcript.
// ?limit=N keeps only the last N messages.
func (g *Gateway) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		conv, ok, err := g.chats.GetConversation(r.Context(), id)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		msgs, err := g.chats.Messages(r.Context(), id, int(limit))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}
		writeJSON(w, http.StatusOK, conversationResponse{Conversation: conv, Messages: msgs})
	}
}

func (g *Gateway) handleRenameConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req conversationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, ok, err := g.chats.GetConversation(r.Context(), id); err != nil {
			g.fail(w, r, err)
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err := g.chats.RenameConversation(r.Context(), id, chat.Title(req.Title)); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteConversation removes the conversation and its messages.
// Deleting a missing id succeeds.
func (g *Gateway) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := g.chats.DeleteConversation(r.Context(), id); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type turnRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// handleTurn runs one assistant turn in the conversation. The short-term
// buffer is rebuilt from the stored transcript on every request.
func (g *Gateway) handleTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req turnRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		session, err := g.assistant.OpenSession(r.Context(), g.userOr(req.UserID), id)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		res, err := g.assistant.Turn(r.Context(), session, req.Content)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
