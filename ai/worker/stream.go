package worker

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxLineSize bounds a single record in a worker stream
var MaxLineSize = 1 << 20

var errLineTooLong = errors.New("stream line exceeds maximum size")

// LineReader yields complete lines from a worker response body. Bytes after the
// last newline of a read are held until a later read completes the line.
type LineReader struct {
	r       *bufio.Reader
	maxSize int
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r), maxSize: MaxLineSize}
}

// Next returns the next non-empty line without its terminator. A final line
// without a trailing newline is returned before io.EOF.
func (l *LineReader) Next() ([]byte, error) {
	for {
		line, err := l.readLine()
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if err != nil && err != io.EOF {
				// incomplete line from a broken body
				return nil, err
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads through the next newline. It stops reading as soon as the
// line outgrows maxSize, so at most one buffer past the limit is consumed.
func (l *LineReader) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := l.r.ReadSlice('\n')
		if len(line)+len(frag) > l.maxSize {
			return nil, errLineTooLong
		}
		line = append(line, frag...)
		if err != bufio.ErrBufferFull {
			return line, err
		}
	}
}
