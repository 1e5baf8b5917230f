package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/dutctl/internal/transport"
)

type GpioCmd struct {
	Get  GpioGetCmd  `cmd:"" help:"Read a pin level."`
	Set  GpioSetCmd  `cmd:"" help:"Drive a pin level."`
	Mode GpioModeCmd `cmd:"" help:"Set the pin mode."`
	Pull GpioPullCmd `cmd:"" help:"Set the pull resistor."`
}

func (c *CLI) withPin(id string, fn func(pin transport.GpioPin) error) error {
	_, tr, err := c.open()
	if err != nil {
		return err
	}
	defer tr.Close()
	pin, err := tr.GpioPin(id)
	if err != nil {
		return err
	}
	return fn(pin)
}

type GpioGetCmd struct {
	Pin string `arg:"" help:"Pin id."`
}

func (g *GpioGetCmd) Run(cli *CLI) error {
	return cli.withPin(g.Pin, func(pin transport.GpioPin) error {
		high, err := pin.Read()
		if err != nil {
			return err
		}
		fmt.Println(levelName(high))
		return nil
	})
}

type GpioSetCmd struct {
	Pin   string `arg:"" help:"Pin id."`
	Level string `arg:"" help:"high, low, 1 or 0."`
}

func (g *GpioSetCmd) Run(cli *CLI) error {
	high, err := parseLevel(g.Level)
	if err != nil {
		return err
	}
	return cli.withPin(g.Pin, func(pin transport.GpioPin) error {
		return pin.Write(high)
	})
}

type GpioModeCmd struct {
	Pin  string `arg:"" help:"Pin id."`
	Mode string `arg:"" help:"push-pull, open-drain or input."`
}

func (g *GpioModeCmd) Run(cli *CLI) error {
	mode, err := transport.ParsePinMode(g.Mode)
	if err != nil {
		return err
	}
	return cli.withPin(g.Pin, func(pin transport.GpioPin) error {
		return pin.SetMode(mode)
	})
}

type GpioPullCmd struct {
	Pin  string `arg:"" help:"Pin id."`
	Pull string `arg:"" help:"none, up or down."`
}

func (g *GpioPullCmd) Run(cli *CLI) error {
	pull, err := transport.ParsePullMode(g.Pull)
	if err != nil {
		return err
	}
	return cli.withPin(g.Pin, func(pin transport.GpioPin) error {
		return pin.SetPullMode(pull)
	})
}

func parseLevel(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "1", "true":
		return true, nil
	case "low", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid gpio level %q", raw)
	}
}

func levelName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
