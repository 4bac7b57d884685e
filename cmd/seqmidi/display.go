package main

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
)

func gray(v uint8) aurora.Color {
	if v > 23 {
		v = 23
	}
	return aurora.Color(232+v) << 16
}

func color(r, g, b uint8) aurora.Color {
	return aurora.Color(16+36*r+6*g+b) << 16
}

func terminator(r rune) bool {
	return r >= 0x40 && r <= 0x7e
}

// colorForString returns the same color for the same string
func colorForString(au aurora.Aurora, s string) aurora.Value {
	h := fnv.New32a()
	h.Write([]byte(s))
	sum := h.Sum32()

	r, g, b := uint8(sum)&0b00000111, uint8(sum>>8)&0b00000111, uint8(sum>>16)&0b00000111
	if r > 5 {
		r = 5
	}
	if g > 5 {
		g = 5
	}
	if b > 5 {
		b = 5
	}

	// avoid dark colors
	if r+g+b < 3 {
		r += 1
		g += 1
		b += 1
	}

	return au.Index(16+36*r+6*g+b, s)
}

// rawStringLen returns a len of string ignoring included escape sequences
func rawStringLen(s string) int {
	var sequence bool
	var escLen, sum int

	for i, r := range s {
		if !sequence {
			if r == '\033' && i < len(s)-1 && s[i+1] == '[' {
				sequence = true
				escLen += 1
			}
			continue
		}
		if r == '[' && s[i-1] == '\033' {
			escLen += 1
			continue
		}
		escLen += 1
		if terminator(r) {
			sequence = false
			sum += escLen
			escLen = 0
		}
	}
	return len(s) - sum
}

func levelColor(level int) aurora.Color {
	switch level {
	case logger.ErrorLvl:
		return color(5, 1, 1)
	case logger.WarningLvl:
		return color(5, 5, 1)
	case logger.InfoLvl:
		return gray(18)
	case logger.EventLvl:
		return gray(14)
	default:
		return gray(9)
	}
}

func prepareString(msg logger.Entry, au aurora.Aurora, width, logLevel int) string {
	if msg.Level > logLevel {
		return ""
	}

	msgColor := levelColor(msg.Level)
	timestamp := fmt.Sprintf(
		"[%s]",
		au.Reset(time.Time(msg.Ts).Format("15:04:05.000")).Colorize(color(1, 1, 5)).String(),
	)

	var fields []string
	for _, f := range []struct{ key, value string }{
		{"backend", msg.Backend},
		{"device", msg.Device},
		{"port", msg.Port},
		{"address", msg.Address},
		{"event", msg.Event},
	} {
		if f.value != "" {
			fields = append(fields, fmt.Sprintf("[%s=%s]", f.key, colorForString(au, f.value).String()))
		}
	}
	if msg.Error != "" {
		fields = append(fields, fmt.Sprintf("[error=%s]", au.Reset(msg.Error).Colorize(color(5, 2, 2)).String()))
	}
	if logLevel >= logger.DebugLvl && msg.Caller != "" {
		file, line, _ := strings.Cut(msg.Caller, ":")
		fields = append(fields, fmt.Sprintf("(%s:%s)", colorForString(au, file).String(), line))
	}
	joined := strings.Join(fields, " ")

	if width < 0 {
		m := au.Reset(msg.Msg).Colorize(msgColor).String()
		return strings.TrimRight(fmt.Sprintf("%s %s %s", timestamp, m, joined), " ")
	}

	fieldsLen := rawStringLen(joined)
	timeLen := rawStringLen(timestamp)
	msgLen := len(msg.Msg)

	var m string
	freeSpace := width - (timeLen + 1 + msgLen + 1 + fieldsLen)
	if freeSpace < 0 {
		limit := (width - (fieldsLen + 1 + timeLen + 1)) - 3
		if limit < 20 {
			m = au.Reset(msg.Msg).Colorize(msgColor).String()
			joined = au.Gray(12, "(fields hidden)").String()
			freeSpace = width - (timeLen + 1 + msgLen + 1 + rawStringLen(joined))
			if freeSpace < 0 {
				freeSpace = 0
			}
		} else {
			m = au.Reset(msg.Msg[:limit] + "(…)").Colorize(msgColor).String()
			freeSpace = 0
		}
	} else {
		m = au.Reset(msg.Msg).Colorize(msgColor).String()
	}

	return fmt.Sprintf("%s %s%s %s", timestamp, m, strings.Repeat(" ", freeSpace), joined)
}

// logBuffer keeps last size raw log entries.
type logBuffer struct {
	mutex   sync.Mutex
	entries [][]byte
	next    int
	full    bool
}

func newLogBuffer(size int) *logBuffer {
	if size < 1 {
		size = 1
	}
	return &logBuffer{entries: make([][]byte, size)}
}

func (b *logBuffer) WriteMessage(data []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.entries[b.next] = data
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// ReadLastMessages returns up to n most recent entries, oldest first.
func (b *logBuffer) ReadLastMessages(n int) [][]byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	count := b.next
	if b.full {
		count = len(b.entries)
	}
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}

	out := make([][]byte, 0, n)
	start := b.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(b.entries)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out
}

// printLogs writes formatted entries to stdout until Messages is closed.
func printLogs(colors bool, logLevel int) {
	au := aurora.NewAurora(colors)
	for data := range logger.Messages {
		msg, err := logger.Unpack(data)
		if err != nil {
			fmt.Printf("%s\n", string(data))
			continue
		}
		if m := prepareString(msg, au, -1, logLevel); m != "" {
			fmt.Printf("%s\n", m)
		}
	}
}
