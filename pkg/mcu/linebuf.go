package mcu

import (
	"bytes"
	"strings"
)

// maxLineLength bounds a partial line. Longer garbage is dropped.
const maxLineLength = 1024

// lineBuffer accumulates received bytes and splits them into lines.
// Both "\n" and "\r\n" terminate a line. Empty lines are skipped.
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > maxLineLength && bytes.IndexByte(b.buf, '\n') < 0 {
		b.buf = b.buf[:0]
	}
}

// next returns the next complete line without its terminator.
func (b *lineBuffer) next() (string, bool) {
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			return "", false
		}
		line := strings.TrimSpace(string(b.buf[:i]))
		b.buf = b.buf[i+1:]
		if line != "" {
			return line, true
		}
	}
}

func (b *lineBuffer) reset() {
	b.buf = b.buf[:0]
}
