package transport

import (
	"context"
	"regexp"
	"time"
)

const (
	consolePollInterval = 100 * time.Millisecond
	consoleMaxBuffered  = 64 * 1024
)

// ReadSubmatch reads uart until re matches the accumulated output and returns
// the submatches. Output before the match is discarded.
func ReadSubmatch(ctx context.Context, uart Uart, re *regexp.Regexp) ([]string, error) {
	var seen []byte
	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := uart.ReadTimeout(buf, consolePollInterval)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		seen = append(seen, buf[:n]...)
		if loc := re.FindSubmatchIndex(seen); loc != nil {
			out := make([]string, len(loc)/2)
			for i := range out {
				if loc[2*i] >= 0 {
					out[i] = string(seen[loc[2*i]:loc[2*i+1]])
				}
			}
			return out, nil
		}
		if len(seen) > consoleMaxBuffered {
			seen = seen[len(seen)-consoleMaxBuffered:]
		}
	}
}
