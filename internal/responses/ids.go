package responses

import (
	"strings"

	"github.com/google/uuid"
)

// simpleUUID returns a UUIDv4 with its dashes stripped, the way the
// original system formats the non-response-id portion of its ids.
func simpleUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewResponseID formats a ResponseObject id: "resp_{uuid}".
func NewResponseID() string {
	return "resp_" + uuid.NewString()
}

// NewMessageID formats a message response-item id: "msg_{uuid_simple}".
func NewMessageID() string {
	return "msg_" + simpleUUID()
}

// NewToolCallID formats a tool-call response-item id:
// "{tool_type}_{uuid_simple}", e.g. "web_search_call_ab12...".
func NewToolCallID(toolType string) string {
	return toolType + "_" + simpleUUID()
}
