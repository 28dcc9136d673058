package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/responses"
	"github.com/llmrouter/gateway/internal/stream"
)

// handleHealth responds with a simple JSON status indicating the server
// is alive — a basic liveness probe, not provider/Redis connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions serves both POST /v1/chat/completions and
// POST /v1/completions — the legacy endpoint shares the same wire shape
// (§6), so both routes dispatch into the same Completion Service call.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gwerrors.WriteJSON(w, gwerrors.Wrap(gwerrors.KindInvalidRequest, "invalid request body", err))
		return
	}

	principal := principalFromContext(r.Context())

	if req.Stream {
		chunks, inferenceID, err := s.completion.CreateChatCompletionStream(r.Context(), &req, principal)
		if err != nil {
			gwerrors.WriteJSON(w, err)
			return
		}
		w.Header().Set("Inference-Id", inferenceID)
		if err := stream.Write(w, chunks); err != nil {
			log.Printf("server: stream write error: %v", err)
		}
		return
	}

	resp, inferenceID, err := s.completion.CreateChatCompletion(r.Context(), &req, principal)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}
	w.Header().Set("Inference-Id", inferenceID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// createResponseRequest is the POST /v1/responses wire body (§6).
type createResponseRequest struct {
	Model              string            `json:"model"`
	Input              string            `json:"input"`
	ConversationID     string            `json:"conversation_id,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Tools              []responseTool    `json:"tools,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type responseTool struct {
	Type string `json:"type"`
}

// handleCreateResponse serves POST /v1/responses: decodes the request,
// starts the agent loop, and streams its event schedule back as SSE
// (§4.E, §6).
func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	var req createResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gwerrors.WriteJSON(w, gwerrors.Wrap(gwerrors.KindInvalidRequest, "invalid request body", err))
		return
	}

	tools := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, t.Type)
	}

	principal := principalFromContext(r.Context())
	events, responseID, err := s.responses.CreateResponseStream(r.Context(), responses.CreateRequest{
		Model:              req.Model,
		Input:              req.Input,
		ConversationID:     req.ConversationID,
		PreviousResponseID: req.PreviousResponseID,
		Tools:              tools,
		Metadata:           req.Metadata,
	}, principal)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	w.Header().Set("Inference-Id", responseID)
	if err := responses.WriteSSE(w, events); err != nil {
		log.Printf("server: responses stream write error: %v", err)
	}
}

// handleListInputItems serves GET /v1/responses/{id}/input_items (§6).
func (s *Server) handleListInputItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := s.responses.ListInputItems(r.Context(), id)
	if err != nil {
		gwerrors.WriteJSON(w, gwerrors.Wrap(gwerrors.KindNotFound, "response not found", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": items})
}
