package pty

import (
	"unicode/utf8"
)

// EventKind classifies the output of the line discipline.
type EventKind int

const (
	// EventEcho is text to echo back to the master.
	EventEcho EventKind = iota
	// EventLine is text to forward to the slave. An empty line is an
	// end-of-file marker.
	EventLine
	// EventInterrupt asks for an interrupt of the foreground group.
	EventInterrupt
)

// Event is one action produced by the line discipline.
type Event struct {
	Kind EventKind
	Text string
}

// LineDiscipline performs cooked-mode line editing. It holds the edit line,
// the cursor within it and any escape sequence split across writes.
type LineDiscipline struct {
	line    []rune
	cursor  int
	pending string
}

// Line returns the current edit line.
func (d *LineDiscipline) Line() string {
	return string(d.line)
}

// Cursor returns the cursor position within the edit line.
func (d *LineDiscipline) Cursor() int {
	return d.cursor
}

// Reset discards the edit line.
func (d *LineDiscipline) Reset() {
	d.line = d.line[:0]
	d.cursor = 0
	d.pending = ""
}

// Feed processes input typed at the master and returns the resulting
// events in order. Adjacent echoes are merged.
func (d *LineDiscipline) Feed(input string) []Event {
	var out eventList

	data := d.pending + input
	d.pending = ""

	for i := 0; i < len(data); {
		if data[i] == ESC {
			seq, n := scanSequence(data[i:])
			if n == 0 {
				d.pending = data[i:]
				break
			}
			d.escape(seq, &out)
			i += n
			continue
		}

		r, size := utf8.DecodeRuneInString(data[i:])
		if r == utf8.RuneError && size == 1 && !utf8.FullRuneInString(data[i:]) {
			d.pending = data[i:]
			break
		}
		i += size

		switch r {
		case CR, LF:
			text := string(d.line) + "\n"
			d.clear()
			out.echo("\n")
			out.add(EventLine, text)
		case EOT:
			text := string(d.line)
			d.clear()
			out.add(EventLine, text)
		case ETX:
			d.clear()
			out.echo("^C\n")
			out.add(EventInterrupt, "")
		case BS, DEL:
			d.backspace(&out)
		default:
			if isPrintable(r) {
				d.insert(r, &out)
			}
		}
	}

	return out.events
}

func (d *LineDiscipline) clear() {
	d.line = d.line[:0]
	d.cursor = 0
}

// insert writes r at the cursor and redraws the rest of the line.
func (d *LineDiscipline) insert(r rune, out *eventList) {
	d.line = append(d.line, 0)
	copy(d.line[d.cursor+1:], d.line[d.cursor:])
	d.line[d.cursor] = r
	d.cursor++

	rest := string(d.line[d.cursor:])
	out.echo(string(r) + rest + CursorLeft(utf8.RuneCountInString(rest)))
}

// backspace erases the rune before the cursor and reflows the rest of the
// line over it.
func (d *LineDiscipline) backspace(out *eventList) {
	if d.cursor == 0 {
		return
	}
	d.line = append(d.line[:d.cursor-1], d.line[d.cursor:]...)
	d.cursor--

	rest := string(d.line[d.cursor:])
	out.echo(CursorLeft(1) + rest + " " + CursorLeft(utf8.RuneCountInString(rest)+1))
}

func (d *LineDiscipline) escape(seq sequence, out *eventList) {
	if seq.intro != '[' && seq.intro != 'O' {
		return
	}

	switch seq.final {
	case 'C':
		if d.cursor < len(d.line) {
			d.cursor++
			out.echo(CursorRight(1))
		}
	case 'D':
		if d.cursor > 0 {
			d.cursor--
			out.echo(CursorLeft(1))
		}
	case 'H':
		out.echo(CursorLeft(d.cursor))
		d.cursor = 0
	case 'F':
		out.echo(CursorRight(len(d.line) - d.cursor))
		d.cursor = len(d.line)
	case '~':
		// ESC[3~ is the delete key.
		if seq.params == "3" && d.cursor < len(d.line) {
			d.line = append(d.line[:d.cursor], d.line[d.cursor+1:]...)
			rest := string(d.line[d.cursor:])
			out.echo(rest + " " + CursorLeft(utf8.RuneCountInString(rest)+1))
		}
	}
}

type eventList struct {
	events []Event
}

func (l *eventList) add(kind EventKind, text string) {
	l.events = append(l.events, Event{Kind: kind, Text: text})
}

func (l *eventList) echo(text string) {
	if text == "" {
		return
	}
	if n := len(l.events); n > 0 && l.events[n-1].Kind == EventEcho {
		l.events[n-1].Text += text
		return
	}
	l.add(EventEcho, text)
}
