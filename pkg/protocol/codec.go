package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// Encoder writes messages as JSON lines. It is safe for concurrent use.
type Encoder struct {
	// mu serializes writes so lines never interleave.
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteMessage encodes m and writes it followed by a newline.
func (e *Encoder) WriteMessage(m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads JSON-line messages.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize+1)
	return &Decoder{sc: sc}
}

// ReadMessage reads the next message, skipping blank lines. It returns
// io.EOF at the end of the stream.
func (d *Decoder) ReadMessage() (Message, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := m.Decode(line); err != nil {
			return Message{}, err
		}
		return m, nil
	}

	if err := d.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Message{}, ErrMessageTooLarge
		}
		return Message{}, err
	}
	return Message{}, io.EOF
}
