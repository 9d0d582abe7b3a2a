package model

import "time"

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the roles a stored message may carry.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message represents one turn of a conversation.
//
// Messages are append-only: once stored they are never edited. Usage holds
// the provider's token accounting for assistant turns and may contain nil
// values for counters the provider did not report.
type Message struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	Name      string
	Usage     map[string]any
	Metadata  map[string]any
	CreatedAt time.Time
}

// ChatMessage is the role+content projection sent to providers.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ProjectHistory strips name, usage and metadata from stored messages,
// keeping their order.
func ProjectHistory(messages []Message) []ChatMessage {
	result := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		result[i] = ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}
