package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/convohub/messaging-platform/internal/model"
)

const defaultSystemPrompt = "You are a helpful customer support assistant. " +
	"Answer briefly and accurately. If you cannot help, say so and offer to " +
	"connect the customer with a human agent."

// Responder generates direct AI replies for bots that do not use the
// external workflow engine.
type Responder struct {
	client Client
}

// NewResponder wraps an LLM client.
func NewResponder(client Client) *Responder {
	return &Responder{client: client}
}

// Reply produces a reply to the latest user message given the recent
// conversation history, oldest first.
func (r *Responder) Reply(ctx context.Context, bot *model.Bot, history []model.Message) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("responder: no LLM client configured")
	}

	system := bot.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	msgs := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Sender {
		case model.SenderUser:
			msgs = append(msgs, ChatMessage{Role: "user", Content: m.Content})
		case model.SenderBot, model.SenderOperator:
			msgs = append(msgs, ChatMessage{Role: "assistant", Content: m.Content})
		}
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("responder: empty history")
	}
	// Providers require the transcript to start with a user turn.
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}

	resp, err := r.client.Complete(ctx, &CompletionRequest{
		System:   system,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
