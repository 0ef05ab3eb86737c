package logs

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseADOError(t *testing.T) {
	p := NewParser(zerolog.Nop())

	spans := p.Parse("2024-01-01T00:00:00.123456Z ##[error]disk full\n")

	require.Len(t, spans, 1)
	assert.Equal(t, KindADOError, spans[0].Kind)
	assert.Equal(t, "disk full", spans[0].Message)
	require.NotNil(t, spans[0].Timestamp)
	expected := time.Date(2024, 1, 1, 0, 0, 0, 123000000, time.UTC)
	assert.True(t, spans[0].Timestamp.Equal(expected), "fractional seconds should truncate to milliseconds")
}

func TestParseADOErrorMessageEndsAtNextTimestamp(t *testing.T) {
	p := NewParser(zerolog.Nop())
	text := "2024-01-01T00:00:00.100Z ##[error]first failure\nwith a second line\n" +
		"2024-01-01T00:00:01.000Z all good again\n"

	spans := p.Parse(text)

	require.Len(t, spans, 1)
	assert.Equal(t, "first failure\nwith a second line", spans[0].Message)
}

func TestParseStackTraceErrors(t *testing.T) {
	p := NewParser(zerolog.Nop())

	tests := []struct {
		name string
		text string
		kind ErrorKind
	}{
		{"value error", "ValueError: bad input\n", KindValueError},
		{"key error", "KeyError: 'missing'\n", KindKeyError},
		{"type error", "TypeError: unsupported operand\n", KindTypeError},
		{"index error", "IndexError: list index out of range\n", KindIndexError},
		{"assertion error", "AssertionError: expected 3\n", KindAssertionError},
		{"attribute error", "AttributeError: no attribute 'run'\n", KindAttributeError},
		{"import error", "ImportError: no module named onnx\n", KindImportError},
		{"name error", "NameError: name 'x' is not defined\n", KindNameError},
		{"memory error", "MemoryError: allocation failed\n", KindMemoryError},
		{"traceback", "Traceback (most recent call last):\n  File \"eval.py\", line 3\n", KindTraceback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := p.Parse(tt.text)
			require.Len(t, spans, 1)
			assert.Equal(t, tt.kind, spans[0].Kind)
			assert.Nil(t, spans[0].Timestamp, "no preceding timestamp exists")
		})
	}
}

func TestStackTraceTimestampIsNearestPreceding(t *testing.T) {
	p := NewParser(zerolog.Nop())
	text := "2024-01-01T00:00:00.100Z step one\n" +
		"2024-01-01T00:00:05.500Z step two\n" +
		"ValueError: bad input\n" +
		"2024-01-01T00:00:09.000Z step three\n"

	spans := p.Parse(text)

	require.Len(t, spans, 1)
	require.NotNil(t, spans[0].Timestamp)
	expected := time.Date(2024, 1, 1, 0, 0, 5, 500000000, time.UTC)
	assert.True(t, spans[0].Timestamp.Equal(expected), "should pick the nearest timestamp before the match, not the first")
	assert.Equal(t, "ValueError: bad input", spans[0].Message)
}

func TestSpansWithoutTimestampSortLast(t *testing.T) {
	p := NewParser(zerolog.Nop())
	// The traceback appears first in the text but has no preceding timestamp.
	text := "Traceback (most recent call last):\n  boom\n" // no timestamp anywhere before this
	text += "2024-01-01T00:00:00.100Z ##[error]late failure\n"

	spans := p.Parse(text)

	require.Len(t, spans, 2)
	assert.Equal(t, KindADOError, spans[0].Kind)
	assert.NotNil(t, spans[0].Timestamp)
	assert.Equal(t, KindTraceback, spans[1].Kind)
	assert.Nil(t, spans[1].Timestamp)
}

func TestParseIsIdempotent(t *testing.T) {
	p := NewParser(zerolog.Nop())
	text := "2024-01-01T00:00:00.100Z ##[error]one\n" +
		"KeyError: 'two'\n" +
		"2024-01-01T00:00:02.000Z ##[error]three\n" +
		"Traceback (most recent call last):\n  four\n"

	first := p.Parse(text)
	second := p.Parse(text)

	assert.Equal(t, first, second)
}

func TestUnparsableTimestampKeepsSpan(t *testing.T) {
	p := NewParser(zerolog.Nop())
	// Matches the timestamp pattern but is not a real instant.
	spans := p.Parse("2024-99-99T99:99:99.123Z ##[error]clock skew\n")

	require.Len(t, spans, 1)
	assert.Nil(t, spans[0].Timestamp)
	assert.Equal(t, "clock skew", spans[0].Message)
}

func TestParseEmptyText(t *testing.T) {
	p := NewParser(zerolog.Nop())
	assert.Empty(t, p.Parse(""))
	assert.Empty(t, p.Parse("2024-01-01T00:00:00.100Z nothing wrong here\n"))
}
