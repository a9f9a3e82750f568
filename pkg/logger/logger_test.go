package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core)).With("component", "db")

	l.Info("database opened", "path", "/tmp/x")
	l.Warn("slow", "ms", 12)

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "database opened", entries[0].Message)
	assert.Equal(t, "db", entries[0].ContextMap()["component"])
	assert.Equal(t, "/tmp/x", entries[0].ContextMap()["path"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	core, logs := observer.New(zap.InfoLevel)
	SetDefault(New(zap.New(core)))
	SetDefault(nil)

	Default().Info("still here")
	assert.Equal(t, 1, logs.Len())
}
