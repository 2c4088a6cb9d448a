package control

import (
	"bufio"
	"io"
	"log/slog"
)

// ReaderSource parses textual commands from a line-oriented stream,
// typically stdin: "start video server", "stop video server",
// "capture image". Lines that parse to nothing are silently ignored.
type ReaderSource struct {
	r       io.Reader
	surface *Surface
}

// NewReaderSource creates an unstarted reader source.
func NewReaderSource(r io.Reader, surface *Surface) *ReaderSource {
	return &ReaderSource{r: r, surface: surface}
}

// Start reads lines until EOF or a read error. Runs in its own goroutine;
// there is no way to interrupt a blocked stdin read, so the goroutine is
// simply abandoned at process exit.
func (s *ReaderSource) Start() {
	go func() {
		scanner := bufio.NewScanner(s.r)
		for scanner.Scan() {
			line := scanner.Text()
			cmd, ok := Parse(line)
			if !ok {
				if line != "" {
					slog.Debug("control: unrecognized input, ignoring", "input", line)
				}
				continue
			}
			slog.Info("control: command received", "source", "reader", "command", cmd.String())
			s.surface.Dispatch(cmd)
		}
	}()
}
