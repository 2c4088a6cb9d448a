package control

import "log/slog"

// Surface owns the serial command stream delivered to the main loop. Each
// physical command event is delivered at most once; when the queue is full
// the command is dropped with a warning rather than blocking the source.
type Surface struct {
	commands chan Command
}

// NewSurface creates a surface with a small command backlog.
func NewSurface() *Surface {
	return &Surface{commands: make(chan Command, 10)}
}

// Commands is the channel the main loop drains once per iteration.
func (s *Surface) Commands() <-chan Command {
	return s.commands
}

// Dispatch queues a command without blocking the calling source.
func (s *Surface) Dispatch(cmd Command) {
	if cmd == CommandNone {
		return
	}
	select {
	case s.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.String())
	}
}
