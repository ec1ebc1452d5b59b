package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "color", 9)
	Error("shown error", errors.New("boom"), "op", "draw")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn color=9")
	assert.Contains(t, out, "[ERROR] shown error err=boom op=draw")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestFormatKVsIgnoresOddTail(t *testing.T) {
	assert.Equal(t, " a=1 b=x", formatKVs("a", 1, "b", "x", "dangling"))
	assert.Equal(t, " b=2", formatKVs(3, "skipped", "b", 2))
}
