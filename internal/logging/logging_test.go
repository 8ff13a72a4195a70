package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, ParseLevel("info"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.DebugLevel, ParseLevel("nonsense"))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestFileHook(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "debug", Dir: dir, Quiet: true})
	require.NoError(t, err)

	Component(logger, "test").Info("round accepted")
	Component(logger, "test").Debug("tick")

	info, err := os.ReadFile(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "round accepted")
	assert.NotContains(t, string(info), "tick")

	debug, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(debug), "tick")
}

func TestNewTestEntry(t *testing.T) {
	entry := NewTestEntry(t, "engine")
	assert.Equal(t, "engine", entry.Data["prefix"])
	entry.Debug("visible with -v")
}
