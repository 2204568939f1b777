// Package logging wires up the module's structured logger: logrus with a
// text formatter, adapted here to the session/phase/remote-address field
// set this protocol's sessions emit.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the base logger for a server run. verbose selects debug level;
// logPath, if non-empty, additionally writes to that file (truncated on
// each run) alongside stderr.
func New(verbose bool, logPath string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}

	out := io.Writer(os.Stderr)
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	l.SetOutput(out)

	return l, nil
}
