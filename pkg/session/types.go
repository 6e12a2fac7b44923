package session

import (
	"time"

	"github.com/steward-ai/steward/pkg/models"
)

// ContextPairs is how many trailing history entries are attached as
// conversation context when calling an agent.
const ContextPairs = 10

// Session is one conversation snapshot: an opaque key mapped to a
// bounded ordered message history. Snapshots persist as whole-file JSON
// with last-writer-wins semantics.
type Session struct {
	Key       string                       `json:"key"`
	Messages  []models.ConversationMessage `json:"messages"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// Context returns the trailing entries used as call context.
func (s *Session) Context() []models.ConversationMessage {
	if len(s.Messages) <= ContextPairs {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-ContextPairs:]
}
