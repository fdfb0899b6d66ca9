// Package monitoring routes the ground station's log output into three
// streams: ops (link loss, dropped data, anything an operator should act
// on), diag (lifecycle and tuning context) and trace (per-packet chatter).
//
// Ops and diag go to stderr until SetLogWriters says otherwise; trace is off.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds one io.Writer per stream. A nil writer disables that
// stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

type stream struct {
	w io.Writer
	l *log.Logger
}

func newStream(w io.Writer) stream {
	if w == nil {
		return stream{}
	}
	return stream{w: w, l: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

var mu sync.RWMutex

var ops, diag, trace = newStream(os.Stderr), newStream(os.Stderr), stream{}

// SetLogWriters replaces all three streams and returns the previous
// writers, so tests can restore them.
func SetLogWriters(w LogWriters) (previous LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	previous = LogWriters{Ops: ops.w, Diag: diag.w, Trace: trace.w}
	ops, diag, trace = newStream(w.Ops), newStream(w.Diag), newStream(w.Trace)
	return previous
}

func logTo(s *stream, format string, args []interface{}) {
	mu.RLock()
	l := s.l
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func Opsf(format string, args ...interface{})   { logTo(&ops, format, args) }
func Diagf(format string, args ...interface{})  { logTo(&diag, format, args) }
func Tracef(format string, args ...interface{}) { logTo(&trace, format, args) }

// TraceEnabled reports whether the trace stream has a writer, so hot paths
// can skip building arguments.
func TraceEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return trace.l != nil
}
