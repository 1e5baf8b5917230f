package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Terminator ends every record on the wire.
const Terminator byte = '\n'

var (
	ErrRecordTooLarge = errors.New("frame: record too large")
	ErrEmptyRecord    = errors.New("frame: empty record")
)

// Limits constrains record decode/encode memory use.
type Limits struct {
	MaxRecordBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxRecordBytes: 128 * 1024,
	}
}

// WriteRecord writes payload followed by a single terminator in one write.
// The payload itself must not contain the terminator.
func WriteRecord(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) == 0 {
		return ErrEmptyRecord
	}
	if limits.MaxRecordBytes > 0 && len(payload)+1 > limits.MaxRecordBytes {
		return ErrRecordTooLarge
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, Terminator)
	_, err := w.Write(buf)
	return err
}

// ReadRecord reads up to and including the next terminator and returns the
// record without it. A peer that closes the stream after a final unterminated
// record still yields that record; io.EOF is only returned when nothing was read.
func ReadRecord(r *bufio.Reader, limits Limits) ([]byte, error) {
	var out []byte
	for {
		chunk, err := r.ReadSlice(Terminator)
		out = append(out, chunk...)
		if limits.MaxRecordBytes > 0 && len(out) > limits.MaxRecordBytes {
			return nil, ErrRecordTooLarge
		}
		switch {
		case err == nil:
			return trim(out)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(out)) == 0 {
				return nil, io.EOF
			}
			return trim(out)
		default:
			return nil, err
		}
	}
}

func trim(record []byte) ([]byte, error) {
	record = bytes.TrimRight(record, "\r\n")
	if len(bytes.TrimSpace(record)) == 0 {
		return nil, ErrEmptyRecord
	}
	return record, nil
}
