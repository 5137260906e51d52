package qmp

import "encoding/json"

type frameKind int

const (
	frameMalformed frameKind = iota
	frameGreeting
	frameEvent
	frameReply
)

func (k frameKind) String() string {
	switch k {
	case frameGreeting:
		return "greeting"
	case frameEvent:
		return "event"
	case frameReply:
		return "reply"
	}
	return "malformed"
}

// classifyFrame decides what a frame is from which keys it carries, before
// any field is decoded. A greeting after the handshake is unexpected and
// treated as malformed by the caller.
func classifyFrame(raw map[string]json.RawMessage) frameKind {
	_, hasQMP := raw["QMP"]
	_, hasEvent := raw["event"]
	_, hasID := raw["id"]
	_, hasReturn := raw["return"]
	_, hasError := raw["error"]

	switch {
	case hasQMP:
		return frameGreeting
	case hasEvent && !hasID:
		return frameEvent
	case hasID && hasReturn != hasError:
		return frameReply
	}
	return frameMalformed
}
