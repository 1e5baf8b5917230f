package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/danmuck/dutctl/internal/transport"
)

type UartCmd struct {
	Write UartWriteCmd `cmd:"" help:"Write text to a console."`
	Read  UartReadCmd  `cmd:"" help:"Read a console for a while or until a pattern appears."`
}

func (c *CLI) withUart(id string, fn func(uart transport.Uart) error) error {
	_, tr, err := c.open()
	if err != nil {
		return err
	}
	defer tr.Close()
	uart, err := tr.Uart(id)
	if err != nil {
		return err
	}
	return fn(uart)
}

type UartWriteCmd struct {
	ID      string `arg:"" help:"Console id."`
	Text    string `arg:"" help:"Text to send."`
	Newline bool   `help:"Append a newline." default:"true" negatable:""`
}

func (u *UartWriteCmd) Run(cli *CLI) error {
	data := []byte(u.Text)
	if u.Newline {
		data = append(data, '\n')
	}
	return cli.withUart(u.ID, func(uart transport.Uart) error {
		return uart.Write(data)
	})
}

type UartReadCmd struct {
	ID      string        `arg:"" help:"Console id."`
	Timeout time.Duration `help:"How long to read." default:"2s"`
	Until   string        `help:"Stop at the first match of this regexp and print it."`
}

func (u *UartReadCmd) Run(cli *CLI) error {
	var re *regexp.Regexp
	if u.Until != "" {
		var err error
		if re, err = regexp.Compile(u.Until); err != nil {
			return err
		}
	}
	return cli.withUart(u.ID, func(uart transport.Uart) error {
		if re != nil {
			ctx, cancel := context.WithTimeout(context.Background(), u.Timeout)
			defer cancel()
			match, err := transport.ReadSubmatch(ctx, uart, re)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("no match for %q within %s", u.Until, u.Timeout)
			}
			if err != nil {
				return err
			}
			fmt.Println(match[0])
			return nil
		}
		return drain(uart, os.Stdout, u.Timeout)
	})
}

// drain copies console output to w until timeout elapses.
func drain(uart transport.Uart, w io.Writer, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1024)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		n, err := uart.ReadTimeout(buf, left)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}
