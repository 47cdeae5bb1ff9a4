package domain

import (
	"context"
	"time"
)

// ActionType описывает тип события участника.
type ActionType string

const (
	ActionStart             ActionType = "start"
	ActionJoinRequest       ActionType = "join_request"
	ActionJoinChannel       ActionType = "join_channel"
	ActionLeaveChannel      ActionType = "leave_channel"
	ActionReceivedMessage   ActionType = "received_static_message"
	ActionReceivedBroadcast ActionType = "received_broadcast"
	ActionViewedMessage     ActionType = "viewed_message"
	ActionAnsweredQuestion  ActionType = "answered_question"
	ActionSkippedQuestion   ActionType = "skipped_question"
	ActionOnboardingDone    ActionType = "onboarding_completed"
	ActionAutoApproved      ActionType = "auto_approved"
	ActionApproveFailed     ActionType = "approve_failed"
)

// Action: запись журнала действий.
type Action struct {
	ID          string     `json:"id"`
	RecipientID int64      `json:"recipient_id"`
	Type        ActionType `json:"type"`
	Data        string     `json:"data,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// ActionLog принимает события участников. Ошибка журнала не должна прерывать основную операцию.
type ActionLog interface {
	LogAction(ctx context.Context, action Action) error
}
