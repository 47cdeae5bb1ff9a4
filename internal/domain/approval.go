package domain

import "strings"

// ApprovalMode определяет, как обрабатываются заявки на вступление.
type ApprovalMode string

const (
	ApprovalManual          ApprovalMode = "manual"
	ApprovalImmediate       ApprovalMode = "immediate"
	ApprovalAfterOnboarding ApprovalMode = "after_onboarding"
)

// SettingApprovalMode: ключ настройки режима одобрения.
const SettingApprovalMode = "auto_approve_mode"

// ParseApprovalMode разбирает значение настройки. Пустое или неизвестное значение даёт ручной режим.
func ParseApprovalMode(raw string) (ApprovalMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "manual", "off", "disabled":
		return ApprovalManual, true
	case "immediate":
		return ApprovalImmediate, true
	case "after_onboarding", "after_messages":
		return ApprovalAfterOnboarding, true
	}
	return ApprovalManual, false
}

// Decision: результат политики одобрения.
type Decision string

const (
	DecisionApproveNow Decision = "approve_now"
	DecisionWait       Decision = "wait"
	DecisionNone       Decision = "none"
)
