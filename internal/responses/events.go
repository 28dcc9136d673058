package responses

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/llmrouter/gateway/internal/domain"
)

// Event is one SSE frame of the Responses API event schedule (§4.E, §6):
// "event: <type>\ndata: {json}\n\n". SequenceNumber is nil for background
// events exempt from the main ordering sequence — currently only
// conversation.title.updated.
type Event struct {
	Type           string
	SequenceNumber *int
	Payload        map[string]any
}

func (e Event) marshal() ([]byte, error) {
	body := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		body[k] = v
	}
	body["type"] = e.Type
	if e.SequenceNumber != nil {
		body["sequence_number"] = *e.SequenceNumber
	}
	return json.Marshal(body)
}

// EventEmitter owns the per-response sequence_number/output_index state
// (§4.E "State and invariants") and the channel the agent loop's events
// flow through to the HTTP handler.
type EventEmitter struct {
	sequence    int
	outputIndex int
	ch          chan Event
}

// NewEventEmitter returns an emitter with a channel of the given buffer
// capacity. §5 allows an unbounded channel but recommends ~1024 as
// acceptable hardening; callers pick the number.
func NewEventEmitter(buffer int) *EventEmitter {
	return &EventEmitter{ch: make(chan Event, buffer)}
}

// Events returns the read side of the emitter's channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Must be called exactly once, after the
// terminal event (response.completed or response.failed) has been sent.
func (e *EventEmitter) Close() {
	close(e.ch)
}

// OutputIndex returns the current output-item slot.
func (e *EventEmitter) OutputIndex() int {
	return e.outputIndex
}

// AdvanceOutputIndex increments the output-item slot, called when an item
// reaches output_item.done.
func (e *EventEmitter) AdvanceOutputIndex() {
	e.outputIndex++
}

func (e *EventEmitter) emit(eventType string, payload map[string]any) {
	seq := e.sequence
	e.sequence++
	e.ch <- Event{Type: eventType, SequenceNumber: &seq, Payload: payload}
}

// EmitBackground sends an event with no sequence_number, for events
// exempt from the main ordering sequence (§4.E supplement).
func (e *EventEmitter) EmitBackground(eventType string, payload map[string]any) {
	e.ch <- Event{Type: eventType, Payload: payload}
}

func (e *EventEmitter) Created(resp *domain.ResponseObject) {
	e.emit("response.created", map[string]any{"response": resp})
}

func (e *EventEmitter) InProgress(resp *domain.ResponseObject) {
	e.emit("response.in_progress", map[string]any{"response": resp})
}

func (e *EventEmitter) OutputItemAdded(item domain.ResponseOutputItem) {
	e.emit("response.output_item.added", map[string]any{"output_index": e.outputIndex, "item": item})
}

func (e *EventEmitter) OutputItemDone(item domain.ResponseOutputItem) {
	e.emit("response.output_item.done", map[string]any{"output_index": e.outputIndex, "item": item})
}

// ContentPartAdded/Done always carry content_index = 0 — the present
// design allows only one content part per message item (§3).
func (e *EventEmitter) ContentPartAdded() {
	e.emit("response.content_part.added", map[string]any{
		"output_index": e.outputIndex, "content_index": 0,
		"part": domain.OutputContent{Type: "output_text", Text: ""},
	})
}

func (e *EventEmitter) ContentPartDone(text string) {
	e.emit("response.content_part.done", map[string]any{
		"output_index": e.outputIndex, "content_index": 0,
		"part": domain.OutputContent{Type: "output_text", Text: text},
	})
}

func (e *EventEmitter) OutputTextDelta(delta string) {
	e.emit("response.output_text.delta", map[string]any{
		"output_index": e.outputIndex, "content_index": 0, "delta": delta,
	})
}

func (e *EventEmitter) OutputTextDone(text string) {
	e.emit("response.output_text.done", map[string]any{
		"output_index": e.outputIndex, "content_index": 0, "text": text,
	})
}

func (e *EventEmitter) WebSearchInProgress() {
	e.emit("response.web_search_call.in_progress", map[string]any{"output_index": e.outputIndex})
}

func (e *EventEmitter) WebSearchSearching() {
	e.emit("response.web_search_call.searching", map[string]any{"output_index": e.outputIndex})
}

func (e *EventEmitter) WebSearchCompleted() {
	e.emit("response.web_search_call.completed", map[string]any{"output_index": e.outputIndex})
}

func (e *EventEmitter) Completed(resp *domain.ResponseObject) {
	e.emit("response.completed", map[string]any{"response": resp})
}

func (e *EventEmitter) Failed(resp *domain.ResponseObject, message string) {
	e.emit("response.failed", map[string]any{"response": resp, "error": message})
}

// TitleUpdated is a background event (§4.E supplement: "no sequence_number
// for background events").
func (e *EventEmitter) TitleUpdated(conversationID, title string) {
	e.EmitBackground("conversation.title.updated", map[string]any{
		"conversation_id": conversationID,
		"title":           title,
	})
}

// WriteSSE drains events and writes them to w as named SSE frames,
// matching §6's "event: <type>\ndata: {json}\n\n" wire shape.
func WriteSSE(w http.ResponseWriter, events <-chan Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range events {
		body, err := event.marshal()
		if err != nil {
			return fmt.Errorf("marshaling event %s: %w", event.Type, err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, body); err != nil {
			return fmt.Errorf("writing event %s: %w", event.Type, err)
		}
		flusher.Flush()
	}
	return nil
}
