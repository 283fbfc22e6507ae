// Package models defines the core data structures for IntakePipe.
//
// It includes types for intake questions, sessions, completed records, and
// inbound/outbound events, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// QuestionKind defines how a question expects to be answered.
type QuestionKind string

const (
	// QuestionKindFreeText expects a typed text reply.
	QuestionKindFreeText QuestionKind = "free_text"
	// QuestionKindDiscreteChoice expects a selection from a fixed option set.
	QuestionKindDiscreteChoice QuestionKind = "discrete_choice"
)

// Validation constants for inbound events.
const (
	// MaxAnswerLength defines the maximum accepted length for a free-text answer.
	MaxAnswerLength = 1000
	// MaxChoiceTokenLength defines the maximum accepted length for a choice token.
	MaxChoiceTokenLength = 64
)

// Error variables for better error handling and testability.
var (
	ErrEmptyUserID        = errors.New("user ID cannot be empty")
	ErrEmptyQuestionID    = errors.New("question ID cannot be empty")
	ErrAnswerTooLong      = errors.New("answer exceeds maximum length")
	ErrChoiceTokenTooLong = errors.New("choice token exceeds maximum length")
	ErrUnknownQuestion    = errors.New("unknown question ID")
	ErrAlreadyCompleted   = errors.New("intake already completed for user")
	ErrNoActiveSession    = errors.New("no active session for user")
	ErrEmptyCatalog       = errors.New("question catalog cannot be empty")
)

// IsValidQuestionKind checks if the given question kind is supported.
func IsValidQuestionKind(k QuestionKind) bool {
	switch k {
	case QuestionKindFreeText, QuestionKindDiscreteChoice:
		return true
	default:
		return false
	}
}

// ChoiceOption represents one selectable option of a discrete-choice question.
type ChoiceOption struct {
	Token string `json:"token"` // stable identifier delivered back on selection
	Label string `json:"label"` // text shown to the user
}

// TextEvent is an inbound free-text message from a user.
type TextEvent struct {
	UserID string `json:"user_id"`
	Body   string `json:"body"`
	Time   int64  `json:"time"`
}

// ChoiceEvent is an inbound discrete-choice selection from a user.
type ChoiceEvent struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Time   int64  `json:"time"`
}

// Validate performs basic validation on a TextEvent.
func (e *TextEvent) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if len(e.Body) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

// Validate performs basic validation on a ChoiceEvent.
func (e *ChoiceEvent) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if len(e.Token) > MaxChoiceTokenLength {
		return ErrChoiceTokenTooLong
	}
	return nil
}

// Session holds a user's in-progress intake answers. The set of present keys
// is the only flow state; there is no separate "current question" field.
type Session struct {
	UserID    string            `json:"user_id"`
	Answers   map[string]string `json:"answers"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewSession creates an empty session for the given user.
func NewSession(userID string) *Session {
	return &Session{
		UserID:    userID,
		Answers:   make(map[string]string),
		CreatedAt: time.Now(),
	}
}

// CompletedRecord describes a finished intake awaiting the deferred follow-up.
type CompletedRecord struct {
	UserID      string    `json:"user_id"`
	FinishedAt  time.Time `json:"finished_at"`
	SummaryText string    `json:"summary_text"`
}

// IntakeRecord is the archived form of a finalized intake.
type IntakeRecord struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	SummaryText    string     `json:"summary_text"`
	FinishedAt     time.Time  `json:"finished_at"`
	FollowUpSentAt *time.Time `json:"follow_up_sent_at,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// EngineStats summarizes the state of the intake engine for the admin surface.
type EngineStats struct {
	ActiveSessions   int `json:"active_sessions"`
	PendingFollowUps int `json:"pending_follow_ups"`
}
