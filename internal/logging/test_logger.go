package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// testLoggerAdapter routes log lines to testing.T so they only show for
// failed tests.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	n := len(d)
	if n > 0 && d[n-1] == '\n' {
		d = d[:n-1]
	}
	if a.prefix != "" {
		a.t.Log(a.prefix + ": " + string(d))
	} else {
		a.t.Log(string(d))
	}
	return n, nil
}

// NewTestLogger returns a debug logger writing through t.Log.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t}
	logger.Level = logrus.DebugLevel
	return logger
}

// NewTestEntry returns a test logger entry prefixed with name.
func NewTestEntry(t testing.TB, name string) *logrus.Entry {
	return Component(NewTestLogger(t), name)
}
