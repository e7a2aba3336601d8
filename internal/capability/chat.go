package capability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ChatMessage is one turn of a conversation with the host's chat model.
type ChatMessage struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatModel is the abstract chat backend the host plugs in. The bridge only
// needs "send these messages, get a reply or an error".
type ChatModel interface {
	Send(ctx context.Context, messages []ChatMessage) (string, error)
}

// ChatStore keeps per-conversation transcripts in memory for the life of
// the host process.
type ChatStore struct {
	mu      sync.Mutex
	history map[string][]ChatMessage
}

// NewChatStore creates an empty conversation store.
func NewChatStore() *ChatStore {
	return &ChatStore{history: make(map[string][]ChatMessage)}
}

// History returns a copy of the transcript for a conversation.
func (s *ChatStore) History(conversationID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.history[conversationID]...)
}

// Append records a completed user/assistant exchange.
func (s *ChatStore) Append(conversationID string, msgs ...ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[conversationID] = append(s.history[conversationID], msgs...)
}

// chatFunc builds the "chat" capability: forwards the message plus stored
// history to the model, records the exchange, and returns the reply. The
// caller's advisory timeout (params.timeout, milliseconds) bounds the call.
func chatFunc(model ChatModel, store *ChatStore, defaultTimeout time.Duration) Func {
	return func(ctx context.Context, params map[string]any) (any, error) {
		message, _ := params["message"].(string)
		if message == "" {
			return nil, fmt.Errorf("missing message parameter")
		}
		if model == nil {
			return nil, fmt.Errorf("no chat model configured")
		}

		conversationID, _ := params["conversationId"].(string)
		if conversationID == "" {
			conversationID = fmt.Sprintf("conv-%d", time.Now().UnixMilli())
		}

		ctx, cancel := context.WithTimeout(ctx, paramTimeout(params, defaultTimeout))
		defer cancel()

		now := time.Now()
		messages := append(store.History(conversationID), ChatMessage{
			Role:      "user",
			Content:   message,
			Timestamp: now,
		})

		reply, err := model.Send(ctx, messages)
		if err != nil {
			return nil, err
		}

		store.Append(conversationID,
			ChatMessage{Role: "user", Content: message, Timestamp: now},
			ChatMessage{Role: "assistant", Content: reply, Timestamp: time.Now()},
		)

		return map[string]any{
			"response":       reply,
			"conversationId": conversationID,
		}, nil
	}
}

// chatHistoryFunc builds the "getChatHistory" capability.
func chatHistoryFunc(store *ChatStore) Func {
	return func(_ context.Context, params map[string]any) (any, error) {
		conversationID, _ := params["conversationId"].(string)
		if conversationID == "" {
			return nil, fmt.Errorf("missing conversationId parameter")
		}
		return map[string]any{
			"conversationId": conversationID,
			"messages":       store.History(conversationID),
		}, nil
	}
}

// paramTimeout reads an advisory timeout in milliseconds from params.
func paramTimeout(params map[string]any, fallback time.Duration) time.Duration {
	if raw, ok := params["timeout"].(float64); ok && raw > 0 {
		return time.Duration(raw) * time.Millisecond
	}
	return fallback
}
