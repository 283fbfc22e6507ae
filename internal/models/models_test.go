package models

import (
	"strings"
	"testing"
)

func TestTextEventValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   TextEvent
		want error
	}{
		{"valid", TextEvent{UserID: "u1", Body: "hello"}, nil},
		{"empty user", TextEvent{UserID: "", Body: "hello"}, ErrEmptyUserID},
		{"oversized body", TextEvent{UserID: "u1", Body: strings.Repeat("x", MaxAnswerLength+1)}, ErrAnswerTooLong},
		{"max length body", TextEvent{UserID: "u1", Body: strings.Repeat("x", MaxAnswerLength)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Validate(); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChoiceEventValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   ChoiceEvent
		want error
	}{
		{"valid", ChoiceEvent{UserID: "u1", Token: "yes"}, nil},
		{"empty user", ChoiceEvent{UserID: "", Token: "yes"}, ErrEmptyUserID},
		{"oversized token", ChoiceEvent{UserID: "u1", Token: strings.Repeat("x", MaxChoiceTokenLength+1)}, ErrChoiceTokenTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Validate(); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	sess := NewSession("u1")
	if sess.UserID != "u1" {
		t.Errorf("UserID = %q", sess.UserID)
	}
	if sess.Answers == nil || len(sess.Answers) != 0 {
		t.Errorf("expected empty initialized answer map")
	}
	if sess.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt set")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success("data")
	if ok.Status != string(APIStatusOK) || ok.Result != "data" {
		t.Errorf("unexpected success response %+v", ok)
	}
	withMsg := SuccessWithMessage("done", 7)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "done" {
		t.Errorf("unexpected response %+v", withMsg)
	}
	bad := Error("boom")
	if bad.Status != string(APIStatusError) || bad.Message != "boom" {
		t.Errorf("unexpected error response %+v", bad)
	}
}
