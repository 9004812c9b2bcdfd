package pty

import (
	"strconv"
)

// Control characters the line discipline interprets.
const (
	ETX = '\x03' // Ctrl+C
	EOT = '\x04' // Ctrl+D
	BS  = '\x08'
	HT  = '\x09'
	LF  = '\x0a'
	CR  = '\x0d'
	ESC = '\x1b'
	DEL = '\x7f'
)

// maxSequenceLen bounds a pending escape sequence; longer input is dropped.
const maxSequenceLen = 32

// CursorLeft returns the sequence moving the cursor n columns left.
func CursorLeft(n int) string {
	if n <= 0 {
		return ""
	}
	return "\x1b[" + strconv.Itoa(n) + "D"
}

// CursorRight returns the sequence moving the cursor n columns right.
func CursorRight(n int) string {
	if n <= 0 {
		return ""
	}
	return "\x1b[" + strconv.Itoa(n) + "C"
}

// sequence is a parsed escape sequence.
type sequence struct {
	// intro is '[' for CSI, 'O' for SS3, or the byte following a bare ESC.
	intro byte
	// params holds CSI parameter bytes.
	params string
	// final is the final byte; zero for a bare two-byte escape.
	final byte
}

// scanSequence parses the escape sequence at the start of data, which must
// begin with ESC. It returns the sequence and its length, or n == 0 when
// data holds only a prefix of one.
func scanSequence(data string) (seq sequence, n int) {
	if len(data) < 2 {
		return sequence{}, 0
	}

	switch data[1] {
	case '[':
		for i := 2; i < len(data); i++ {
			if b := data[i]; b >= 0x40 && b <= 0x7e {
				return sequence{intro: '[', params: data[2:i], final: b}, i + 1
			}
		}
		if len(data) > maxSequenceLen {
			return sequence{intro: '['}, len(data)
		}
		return sequence{}, 0
	case 'O':
		if len(data) < 3 {
			return sequence{}, 0
		}
		return sequence{intro: 'O', final: data[2]}, 3
	default:
		return sequence{intro: data[1]}, 2
	}
}

// isPrintable reports whether r is inserted into the edit line.
func isPrintable(r rune) bool {
	return r == HT || (r >= 0x20 && r != DEL)
}

