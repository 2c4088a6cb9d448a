package control

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalSource maps OS signals to commands: SIGUSR1 starts the video
// server, SIGUSR2 stops it. Still capture has no portable spare signal and
// is reachable over the other sources.
type SignalSource struct {
	surface *Surface
	sigCh   chan os.Signal
}

// NewSignalSource creates an unstarted signal source.
func NewSignalSource(surface *Surface) *SignalSource {
	return &SignalSource{surface: surface}
}

// Start installs the handlers and runs until ctx is cancelled.
func (s *SignalSource) Start(ctx context.Context) {
	s.sigCh = make(chan os.Signal, 4)
	signal.Notify(s.sigCh, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		defer signal.Stop(s.sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-s.sigCh:
				var cmd Command
				switch sig {
				case syscall.SIGUSR1:
					cmd = StartStream
				case syscall.SIGUSR2:
					cmd = StopStream
				default:
					continue
				}
				slog.Info("control: command received", "source", "signal", "command", cmd.String())
				s.surface.Dispatch(cmd)
			}
		}
	}()
}
