package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/khangdo/janus/internal/engine"
	"github.com/khangdo/janus/pkg/types"
)

// maxPromptBytes bounds the accepted prompt size. Anything larger is
// rejected before it reaches the engine.
const maxPromptBytes = 8192

// ChatService is the slice of the engine the HTTP layer needs.
type ChatService interface {
	Chat(ctx context.Context, prompt string) (*engine.ChatResult, error)
	History(ctx context.Context) ([]types.ConversationTurn, error)
}

// QueueDepthGetter exposes the extraction queue depth for /api/stats.
type QueueDepthGetter interface {
	QueueDepth() int
}

// Counter is the slice of a store the stats endpoint needs. Both stores
// satisfy it.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ChatHandlers serves the chat API endpoints.
type ChatHandlers struct {
	service ChatService
	turns   Counter
	docs    Counter
	queue   QueueDepthGetter
}

// NewChatHandlers creates the handler set. The queue getter may be nil;
// stats then report a zero depth.
func NewChatHandlers(service ChatService, turns, docs Counter, queue QueueDepthGetter) *ChatHandlers {
	return &ChatHandlers{service: service, turns: turns, docs: docs, queue: queue}
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	ResponseText    string                 `json:"response_text"`
	TemporalContext []types.RetrievalMatch `json:"temporal_context"`
	SemanticContext []types.RetrievalMatch `json:"semantic_context"`
}

// PostChat handles POST /chat: run one exchange and return the reply with
// the retrieved context.
func (h *ChatHandlers) PostChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxPromptBytes+1024)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if len(req.Prompt) > maxPromptBytes {
		writeError(w, http.StatusBadRequest, "prompt too large")
		return
	}

	result, err := h.service.Chat(r.Context(), req.Prompt)
	if err != nil {
		log.Printf("handlers: chat failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ResponseText:    result.ResponseText,
		TemporalContext: emptyIfNil(result.TemporalContext),
		SemanticContext: emptyIfNil(result.SemanticContext),
	})
}

type historyResponse struct {
	Messages []types.ConversationTurn `json:"messages"`
}

// GetHistory handles GET /chat/history: the full conversation in
// chronological order.
func (h *ChatHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	turns, err := h.service.History(r.Context())
	if err != nil {
		log.Printf("handlers: history failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if turns == nil {
		turns = []types.ConversationTurn{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: turns})
}

type statsResponse struct {
	ConversationTurns int `json:"conversation_turns"`
	SemanticDocuments int `json:"semantic_documents"`
	ExtractionQueue   int `json:"extraction_queue"`
}

// GetStats handles GET /api/stats.
func (h *ChatHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var stats statsResponse
	if n, err := h.turns.Count(r.Context()); err == nil {
		stats.ConversationTurns = n
	} else {
		log.Printf("handlers: turn count unavailable: %v", err)
	}
	if n, err := h.docs.Count(r.Context()); err == nil {
		stats.SemanticDocuments = n
	} else {
		log.Printf("handlers: document count unavailable: %v", err)
	}
	if h.queue != nil {
		stats.ExtractionQueue = h.queue.QueueDepth()
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /api/health. No auth required.
func Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("handlers: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func emptyIfNil(matches []types.RetrievalMatch) []types.RetrievalMatch {
	if matches == nil {
		return []types.RetrievalMatch{}
	}
	return matches
}
