package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// splitHook writes entries of its levels to output.
type splitHook struct {
	output io.Writer
	levels []logrus.Level
}

func (h *splitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = h.output.Write(line)
	return err
}

func (h *splitHook) Levels() []logrus.Level {
	return h.levels
}

// SplitOutput sends warnings and errors to errOut and everything else to out.
func SplitOutput(out, errOut io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(io.Discard)
		r.ReplaceHooks(logrus.LevelHooks{})
		r.AddHook(&splitHook{
			output: errOut,
			levels: []logrus.Level{
				logrus.PanicLevel,
				logrus.FatalLevel,
				logrus.ErrorLevel,
				logrus.WarnLevel,
			},
		})
		r.AddHook(&splitHook{
			output: out,
			levels: []logrus.Level{
				logrus.InfoLevel,
				logrus.DebugLevel,
				logrus.TraceLevel,
			},
		})
		return nil
	}
}
