package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxLineLength caps a single command or reply line.
const MaxLineLength = 64 * 1024

// ErrLineTooLong is returned when a peer sends a line over the connection's
// limit. The oversized line is consumed, so the next ReadLine starts at the
// following line.
var ErrLineTooLong = errors.New("protocol: line too long")

// Conn reads and writes protocol lines over a stream. Bytes that follow a
// line (the raw file body on the transfer channel) stay readable via Reader.
type Conn struct {
	w       io.Writer
	r       *bufio.Reader
	maxLine int
}

// NewConn wraps rw for line-oriented exchange with lines capped at
// MaxLineLength.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, r: bufio.NewReader(rw), maxLine: MaxLineLength}
}

// SetMaxLineLength changes the cap on incoming lines. Zero or less removes
// it; registry replies grow with the registry and are read uncapped.
func (c *Conn) SetMaxLineLength(n int) {
	c.maxLine = n
}

// ReadLine returns the next line without its terminator. A final line that
// ends at EOF without '\n' is still returned; io.EOF is reported only when the
// stream closed with nothing pending.
func (c *Conn) ReadLine() (string, error) {
	var buf []byte
	for {
		frag, err := c.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if c.maxLine > 0 && len(buf) > c.maxLine {
			if derr := c.discardLine(err); derr != nil {
				return "", derr
			}
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			break
		}
		return "", err
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// discardLine skips the rest of the current line given the error from the
// last ReadSlice.
func (c *Conn) discardLine(err error) error {
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = c.r.ReadSlice('\n')
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WriteLine writes line followed by '\n' in a single write.
func (c *Conn) WriteLine(line string) error {
	_, err := io.WriteString(c.w, line+"\n")
	return err
}

// Reader exposes the buffered read side for the raw byte stream.
func (c *Conn) Reader() io.Reader {
	return c.r
}
