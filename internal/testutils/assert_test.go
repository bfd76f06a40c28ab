//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()
	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Envelope(t *testing.T) {
	envelope := map[string]any{
		"kind":        "write",
		"conn_handle": 1,
		"time":        "2026-01-01T00:00:00Z",
		"event": map[string]any{
			"handle": 0x0F,
			"op":     "BLE_GATTS_OP_WRITE_REQ",
			"data":   []int{1, 2},
		},
	}

	tests := []struct {
		name     string
		expected string
		opts     []Option
		pass     bool
	}{
		{
			name:     "subset with presence placeholder",
			expected: `{"kind":"write","time":"<<PRESENCE>>","event":{"handle":15}}`,
			pass:     true,
		},
		{
			name:     "wrong nested value",
			expected: `{"event":{"op":"BLE_GATTS_OP_WRITE_CMD"}}`,
			pass:     false,
		},
		{
			name:     "extra keys are reported when not ignored",
			expected: `{"kind":"write"}`,
			opts:     []Option{WithIgnoreExtraKeys(false)},
			pass:     false,
		},
		{
			name:     "ignored fields drop at every level",
			expected: `{"kind":"write","conn_handle":1,"event":{"handle":15,"op":"BLE_GATTS_OP_WRITE_REQ"}}`,
			opts:     []Option{WithIgnoreExtraKeys(false), WithIgnoredFields("time", "data")},
			pass:     true,
		},
		{
			name:     "placeholder is literal when disabled",
			expected: `{"time":"<<PRESENCE>>"}`,
			opts:     []Option{WithAllowPresencePlaceholder(false)},
			pass:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec).WithOptions(tt.opts...).AssertValue(envelope, tt.expected)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.pass, len(rec.failures) == 0, rec.failures)
		})
	}
}

func TestJSONAsserter_RootArray(t *testing.T) {
	rec := &recordingT{}
	ja := NewJSONAsserter(rec)
	assert.True(t, ja.Assert(`[{"kind":"write","x":1},{"kind":"hvc"}]`, `[{"kind":"write"},{"kind":"hvc"}]`))
	assert.False(t, ja.Assert(`[{"kind":"hvc"}]`, `[{"kind":"write"}]`))
	assert.Len(t, rec.failures, 1)
}

func TestTextAsserter(t *testing.T) {
	// GOAL: Verify normalisation options and the unified diff on mismatch
	//
	// TEST SCENARIO: trailing spaces + blank lines tolerated when enabled → mismatch reports "-expected/+actual" hunks

	actual := "KIND     EVENT  \n\nwrite    BLE_GATTS_EVT_WRITE\n"
	expected := "KIND     EVENT\nwrite    BLE_GATTS_EVT_WRITE"

	rec := &recordingT{}
	ok := NewTextAsserter(rec).WithOptions(
		WithIgnoreTrailingWhitespace(true),
		WithIgnoreEmptyLines(true),
		WithTrimSpace(true),
	).Assert(actual, expected)
	assert.True(t, ok, rec.failures)

	rec = &recordingT{}
	assert.False(t, NewTextAsserter(rec).Assert("a\nb\n", "a\nc\n"))
	assert.Len(t, rec.failures, 1)
	assert.Contains(t, rec.failures[0], "-c")
	assert.Contains(t, rec.failures[0], "+b")

	rec = &recordingT{}
	NewTextAsserter(rec).WithOptions(WithEnableColors(true)).Assert("x y", "x  y")
	assert.True(t, strings.Contains(rec.failures[0], "·"), "colored diffs MUST show whitespace")
}
