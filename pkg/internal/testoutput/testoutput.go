package testoutput

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/sirupsen/logrus"
)

// New returns a writer that writes strings (assuming lines) to the testing
// logger.
func New(t testing.TB) io.Writer {
	return &testoutput{t: t}
}

// Logger wraps a logger at the call point to collect its downstream calls.
func Logger(t testing.TB, logger logging.Logger) logging.Logger {
	l := logger.WithFields(logrus.Fields{})
	l.Logger.SetOutput(New(t))
	l.Logger.SetLevel(logrus.DebugLevel)
	return l
}

// Setter may be given to logging to configure the output to be sent to the
// testing facade to be interlaced with test output. Parallel tests must not use
// it, they would write to each other's output.
func Setter(t testing.TB) logging.Setter {
	return func(l *logrus.Logger) error {
		l.SetOutput(New(t))
		l.SetLevel(logrus.DebugLevel)
		return nil
	}
}

// Revert restores the logger output to write to stderr.
func Revert() logging.Setter {
	return func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		return nil
	}
}

// Recorder is a Logger that keeps every written line for later inspection in
// addition to forwarding it to the test log.
type Recorder struct {
	logging.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// Record returns a Recorder for component. Call Revert when done.
func Record(t testing.TB, component string) *Recorder {
	r := &Recorder{}
	out := io.MultiWriter(New(t), &lockedWriter{r: r})
	logging.Set(func(l *logrus.Logger) error {
		l.SetOutput(out)
		l.SetLevel(logrus.DebugLevel)
		return nil
	})
	r.Logger = logging.New(component)
	return r
}

// Contains reports whether any recorded output contains s.
func (r *Recorder) Contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Contains(r.buf.String(), s)
}

type lockedWriter struct {
	r *Recorder
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.buf.Write(p)
}

type testoutput struct {
	t testing.TB
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Helper()
	l.t.Logf("%s", p)
	return len(p), nil
}
