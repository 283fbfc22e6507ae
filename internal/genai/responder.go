package genai

import (
	"context"
	"fmt"
	"strings"
)

// generalSystemPrompt keeps the model on a narrow courtesy-reply rail. Users
// who already completed their intake must not be steered back into the form.
const generalSystemPrompt = "You are a polite assistant for a patient intake service. " +
	"The user has already completed their intake form. Reply briefly and kindly " +
	"to their message. Do not ask them intake questions, do not request personal " +
	"or medical details, and do not offer to restart the form. Keep the reply " +
	"under three sentences."

// Responder produces courtesy replies for messages received outside an
// active intake conversation.
type Responder struct {
	client ClientInterface
}

// NewResponder wraps a GenAI client as a courtesy responder.
func NewResponder(client ClientInterface) *Responder {
	return &Responder{client: client}
}

// GeneralReply generates a short reply to a general (non-intake) message.
func (r *Responder) GeneralReply(ctx context.Context, userID, body string) (string, error) {
	reply, err := r.client.GeneratePrompt(ctx, generalSystemPrompt, body)
	if err != nil {
		return "", fmt.Errorf("failed to generate general reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty general reply for user %s", userID)
	}
	return reply, nil
}
