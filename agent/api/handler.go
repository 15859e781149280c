package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

const maxBodyBytes = 1 << 20

// TurnHandler is the orchestrator as seen by the transport.
type TurnHandler interface {
	HandleTurn(ctx context.Context, history []contractx.Message, cc *contractx.ClientContext) (contractx.AgentReply, error)
	FallbackMessage() string
}

type Server struct {
	turns TurnHandler
}

func NewServer(turns TurnHandler) http.Handler {
	s := &Server{turns: turns}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/healthz", s.handleHealthz)

	return chainMiddlewares(mux, withLogging, withCORS)
}

type messageDTO struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	// CreatedAt is epoch milliseconds.
	CreatedAt  int64  `json:"createdAt"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

type clientContextDTO struct {
	ConversationID string `json:"conversationId,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Channel        string `json:"channel,omitempty"`
}

type chatRequest struct {
	Messages      []messageDTO      `json:"messages"`
	ClientContext *clientContextDTO `json:"clientContext,omitempty"`
}

type chatResponse struct {
	Success        bool                      `json:"success"`
	Message        string                    `json:"message"`
	ToolExecutions []contractx.ToolExecution `json:"toolExecutions,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	history, cc, err := decodeChatRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{
			Success: false,
			Message: s.turns.FallbackMessage(),
			Error:   err.Error(),
		})
		return
	}

	reply, err := s.turns.HandleTurn(r.Context(), history, cc)
	if err != nil {
		log.Error().Err(err).Msg("agent error")
		writeJSON(w, http.StatusInternalServerError, chatResponse{
			Success: false,
			Message: s.turns.FallbackMessage(),
			Error:   err.Error(),
		})
		return
	}

	executions := reply.ToolExecutions
	if executions == nil {
		executions = []contractx.ToolExecution{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Success:        true,
		Message:        reply.Content,
		ToolExecutions: executions,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeChatRequest(r *http.Request) ([]contractx.Message, *contractx.ClientContext, error) {
	var req chatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, nil, errors.New("invalid JSON body")
	}
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("messages must contain at least 1 element")
	}

	history := make([]contractx.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role := contractx.Role(strings.TrimSpace(m.Role))
		if !role.Valid() {
			return nil, nil, fmt.Errorf("messages[%d].role must be one of user, assistant, system, tool", i)
		}
		if strings.TrimSpace(m.ID) == "" {
			return nil, nil, fmt.Errorf("messages[%d].id is required", i)
		}
		msg := contractx.Message{
			ID:         m.ID,
			Role:       role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.CreatedAt > 0 {
			msg.CreatedAt = time.UnixMilli(m.CreatedAt).UTC()
		}
		history = append(history, msg)
	}

	var cc *contractx.ClientContext
	if req.ClientContext != nil {
		cc = &contractx.ClientContext{
			ConversationID: req.ClientContext.ConversationID,
			Timezone:       req.ClientContext.Timezone,
			Channel:        req.ClientContext.Channel,
		}
	}
	return history, cc, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
