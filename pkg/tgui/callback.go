package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback data too long")

// Data joins "prefix:action[:payload]", the shape the router dispatches on.
func Data(prefix, action, payload string) (string, error) {
	s := strings.TrimSpace(prefix) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is Data for constant routes; it panics on overflow.
func MustData(prefix, action, payload string) string {
	s, err := Data(prefix, action, payload)
	if err != nil {
		panic(err)
	}
	return s
}
