package approval

import "tg-inviter-bot/internal/domain"

// Decide применяет политику одобрения. Функция чистая: режим и состояние анкеты
// передаются вызывающей стороной, прочитанные непосредственно перед решением.
func Decide(mode domain.ApprovalMode, state domain.OnboardingState, hasPending bool) domain.Decision {
	switch mode {
	case domain.ApprovalImmediate:
		if hasPending {
			return domain.DecisionApproveNow
		}
		return domain.DecisionNone
	case domain.ApprovalAfterOnboarding:
		if hasPending && state == domain.OnboardingComplete {
			return domain.DecisionApproveNow
		}
		return domain.DecisionWait
	default:
		return domain.DecisionNone
	}
}
