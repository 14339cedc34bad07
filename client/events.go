package client

import (
	"encoding/json"

	"github.com/gosuda/chatdesk/internal/gateway"
)

func mustClientEvent(evType string, payload any) gateway.Event {
	if payload == nil {
		return gateway.Event{Type: evType}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return gateway.Event{Type: evType}
	}
	return gateway.Event{Type: evType, Payload: raw}
}

func decodeClient[T any](ev gateway.Event) (T, bool) {
	var v T
	if len(ev.Payload) == 0 {
		return v, false
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, false
	}
	return v, true
}
