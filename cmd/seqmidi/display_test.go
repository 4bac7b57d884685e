package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
	"github.com/stretchr/testify/assert"
)

func TestRawStringLen(t *testing.T) {
	for i, tc := range []struct {
		input    string
		expected int
	}{
		{input: "", expected: 0},
		{input: "a", expected: 1},
		{input: "a\033", expected: 2},
		{input: "a\033[", expected: 3},
		{input: "a\033[2", expected: 4},
		{input: "a\033[2A", expected: 1},
		{input: "a\033[2Aa", expected: 2},
		{input: aurora.Red("port").String(), expected: 4},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			assert.Equal(t, tc.expected, rawStringLen(tc.input))
		})
	}
}

func TestPrepareString(t *testing.T) {
	au := aurora.NewAurora(false)
	entry := logger.Entry{
		Ts:     logger.TimeNanosecond(time.Date(2021, 3, 4, 10, 11, 12, 13_000_000, time.Local)),
		Caller: "alsa/alsa.go:42",
		Msg:    "port added",
		Level:  logger.InfoLvl,
		Port:   "keys",
	}

	assert.Equal(t, "[10:11:12.013] port added [port=keys]", prepareString(entry, au, -1, logger.InfoLvl))
	assert.Empty(t, prepareString(entry, au, -1, logger.WarningLvl))
	assert.Equal(t, "[10:11:12.013] port added [port=keys] (alsa/alsa.go:42)",
		prepareString(entry, au, -1, logger.DebugLvl))

	padded := prepareString(entry, au, 60, logger.InfoLvl)
	assert.Len(t, padded, 60)
	assert.True(t, strings.HasSuffix(padded, " [port=keys]"))

	entry.Msg = strings.Repeat("x", 50)
	assert.Contains(t, prepareString(entry, au, 45, logger.InfoLvl), "(fields hidden)")

	entry.Msg = "no fields"
	entry.Port = ""
	assert.Equal(t, "[10:11:12.013] no fields", prepareString(entry, au, -1, logger.InfoLvl))
}

func TestLogBuffer(t *testing.T) {
	b := newLogBuffer(3)
	assert.Empty(t, b.ReadLastMessages(2))

	b.WriteMessage([]byte("a"))
	b.WriteMessage([]byte("b"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, b.ReadLastMessages(5))

	b.WriteMessage([]byte("c"))
	b.WriteMessage([]byte("d"))
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c"), []byte("d")}, b.ReadLastMessages(5))
	assert.Equal(t, [][]byte{[]byte("c"), []byte("d")}, b.ReadLastMessages(2))
	assert.Empty(t, b.ReadLastMessages(0))
}
