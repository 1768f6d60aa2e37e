package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// ErrUnexpected reports a message whose type does not fit the protocol state.
var ErrUnexpected = errors.New("unexpected message")

// maxLine bounds a single message; a chunk of ten thousand keys with results
// stays well below it.
const maxLine = 64 << 20

// Conn reads and writes JSON-lines messages. Send is safe for concurrent
// use; Receive must be called from one goroutine.
type Conn struct {
	mu      sync.Mutex
	w       io.Writer
	scanner *bufio.Scanner
}

// NewConn wraps a reader and writer pair.
func NewConn(r io.Reader, w io.Writer) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Conn{w: w, scanner: scanner}
}

// Send writes msg as a single line.
func (c *Conn) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	data = append(data, '\n')
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Receive reads the next message. It returns io.EOF once the peer closes the
// stream cleanly.
func (c *Conn) Receive() (Message, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := c.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Decode parses one line, keeping result numbers exact.
func Decode(line []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrUnexpected)
	}
	if msg.Result != nil {
		for _, item := range msg.Result.Items {
			for _, fields := range item.Result {
				for name, value := range fields {
					fields[name] = normalize(value)
				}
			}
		}
	}
	return msg, nil
}

func normalize(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := strconv.ParseInt(string(number), 10, 64); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return string(number)
}
