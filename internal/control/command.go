// Package control translates asynchronous external inputs (MQTT, OS
// signals, stdin, WebSocket) into discrete commands consumed by the main
// loop. Unrecognized input produces no command; the control channel is
// best-effort.
package control

import "strings"

// Command is a control-plane instruction. Commands are idempotent with
// respect to server state: repeating one that matches the current state is
// a no-op.
type Command int

const (
	CommandNone Command = iota
	StartStream
	StopStream
	CaptureStill
)

func (c Command) String() string {
	switch c {
	case StartStream:
		return "start_stream"
	case StopStream:
		return "stop_stream"
	case CaptureStill:
		return "capture_still"
	default:
		return "none"
	}
}

// Parse maps a textual command to a Command. Accepts both the wire names
// used over MQTT and the human phrasing used on stdin.
func Parse(input string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "start_stream", "start video server", "start":
		return StartStream, true
	case "stop_stream", "stop video server", "stop":
		return StopStream, true
	case "capture_still", "capture image", "capture", "snapshot":
		return CaptureStill, true
	default:
		return CommandNone, false
	}
}
