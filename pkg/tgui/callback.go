package tgui

import "strings"

// Data formats inline callback data as "scope:action:payload".
// Payload is kept as-is (no escaping); keep it short, Telegram caps
// callback_data at MaxCallbackDataLen bytes.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// SplitData is the inverse of Data. Payload may itself contain ':'.
func SplitData(data string) (scope, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}
