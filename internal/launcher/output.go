package launcher

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// maxLine bounds a single logged line; the remainder is still read and dropped.
const maxLine = 64 << 10

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// OutputSink receives backend output one line at a time. Calls for the two
// streams may arrive concurrently.
type OutputSink interface {
	Line(s Stream, line string)
}

// SinkFunc adapts a function to OutputSink.
type SinkFunc func(s Stream, line string)

func (f SinkFunc) Line(s Stream, line string) { f(s, line) }

// lineSink logs each line and mirrors it into the optional rotating files.
type lineSink struct {
	log   *slog.Logger
	files [2]io.WriteCloser
	extra OutputSink
	mu    [2]sync.Mutex
}

func (s *lineSink) Line(st Stream, line string) {
	if st == Stderr {
		s.log.Warn(line, "stream", st.String())
	} else {
		s.log.Info(line, "stream", st.String())
	}
	if w := s.files[st]; w != nil {
		s.mu[st].Lock()
		_, _ = io.WriteString(w, line+"\n")
		s.mu[st].Unlock()
	}
	if s.extra != nil {
		s.extra.Line(st, line)
	}
}

func (s *lineSink) Close() error {
	if s == nil {
		return nil
	}
	var first error
	for i, w := range s.files {
		if w == nil {
			continue
		}
		s.mu[i].Lock()
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		s.files[i] = nil
		s.mu[i].Unlock()
	}
	return first
}

// drain forwards r to sink line by line until EOF. Overlong lines are cut at
// maxLine; reading always continues so the child never blocks on a full pipe.
func drain(r io.ReadCloser, st Stream, sink OutputSink) {
	defer func() { _ = r.Close() }()
	br := bufio.NewReaderSize(r, 4096)
	buf := make([]byte, 0, 256)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if room := maxLine - len(buf); room > 0 && len(chunk) > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			if len(buf) > 0 {
				sink.Line(st, string(buf))
			}
			return
		}
		if !isPrefix {
			if len(buf) > 0 {
				sink.Line(st, string(buf))
			}
			buf = buf[:0]
		}
	}
}
