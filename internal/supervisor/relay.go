package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/loykin/recpanel/internal/metrics"
)

// relay reads the merged output of sp until end of stream and posts every
// cleaned line to the loop. It never touches supervisor state directly.
func (s *Supervisor) relay(sp *supervisedProcess) {
	defer close(sp.relayDone)
	out := sp.proc.Output()

	src, err := NewDecoder(out, s.encoding)
	if err != nil {
		// validated by config; fall back to raw bytes
		s.logger.Warn("Output decoding disabled", "error", err)
		src = out
	}

	r := bufio.NewReader(src)
	for {
		raw, err := r.ReadString('\n')
		if raw != "" {
			s.post(LogLine{Time: s.clock.Now(), Text: CleanLine(raw), Severity: SeverityNormal}, true)
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
			s.post(LogLine{
				Time:     s.clock.Now(),
				Text:     fmt.Sprintf("error reading recorder output: %v", err),
				Severity: SeverityError,
			}, false)
			metrics.IncReadError(s.name)
			// keep the pipe drained so the child never blocks on a full buffer
			_, _ = io.Copy(io.Discard, out)
		}
		break
	}
	_ = out.Close()

	<-sp.proc.Done()
	s.loop.Post(func() { s.handleStreamEnd(sp) })
}

func (s *Supervisor) post(line LogLine, counted bool) {
	s.loop.Post(func() {
		if counted {
			metrics.IncOutputLine(s.name)
		}
		if s.sink != nil {
			s.sink(line)
		}
	})
}
