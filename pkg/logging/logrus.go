package logging

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		return l
	}(),
	mutex: &sync.Mutex{},
}

// Logger is the logging facade handed to every component. It is satisfied by
// *logrus.Entry.
type Logger interface {
	logrus.FieldLogger

	Writer() *io.PipeWriter
	WriterLevel(logrus.Level) *io.PipeWriter
}

// New returns a Logger for the named component after applying setters to the
// shared root logger.
func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		if err := Set(setter); err != nil {
			root.logger.WithError(err).Warn("unable to apply logger setting")
		}
	}
	return root.logger.WithField("component", component)
}

// Set applies setter to the root logger.
func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Formatter selects the output encoding, either "text" or "json".
func Formatter(name string) Setter {
	return func(r *logrus.Logger) error {
		switch name {
		case "", "text":
			r.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		case "json":
			r.SetFormatter(&logrus.JSONFormatter{})
		default:
			return errors.Errorf("unknown log format %q", name)
		}
		return nil
	}
}

// Output redirects the root logger.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}
