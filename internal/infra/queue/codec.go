package queue

import (
	"encoding/json"
	"fmt"

	"tg-inviter-bot/internal/domain"
)

func encodeAction(action domain.Action) ([]byte, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	return payload, nil
}

func decodeAction(payload []byte) (domain.Action, error) {
	var action domain.Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return domain.Action{}, fmt.Errorf("decode action: %w", err)
	}
	if action.ID == "" || action.Type == "" {
		return domain.Action{}, fmt.Errorf("decode action: пустой id или тип")
	}
	return action, nil
}
