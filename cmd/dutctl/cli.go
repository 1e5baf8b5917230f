package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/danmuck/dutctl/internal/backend"
	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/rs/zerolog"
)

type CLI struct {
	Config   string           `short:"c" help:"Configuration file (.toml, .yaml)." default:"dutctl.toml" env:"DUTCTL_CONFIG"`
	Instance string           `help:"Drive a running emulator instance by name (ti50 backend)." env:"DUTCTL_INSTANCE"`
	Socket   string           `help:"Drive a running emulator through its control socket (ti50 backend)." env:"DUTCTL_SOCKET"`
	Verbose  bool             `short:"v" help:"Enable debug logging."`
	Version  kong.VersionFlag `help:"Show version and exit."`

	Init    InitCmd    `cmd:"" help:"Write a starter configuration file."`
	Caps    CapsCmd    `cmd:"" help:"List the capabilities of the configured backend."`
	Status  StatusCmd  `cmd:"" help:"Print the emulator power state."`
	Start   StartCmd   `cmd:"" help:"Power the emulator on."`
	Stop    StopCmd    `cmd:"" help:"Power the emulator off."`
	Restart RestartCmd `cmd:"" help:"Power cycle the emulator."`
	Gpio    GpioCmd    `cmd:"" help:"Read and drive GPIO pins."`
	Uart    UartCmd    `cmd:"" help:"Talk to a serial console."`
	Run     RunCmd     `cmd:"" help:"Open the backend, serve the admin API and keep the emulator up."`
}

func (c *CLI) AfterApply() error {
	if c.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return nil
}

// loadConfig reads the config file when present and applies the
// --instance/--socket overrides.
func (c *CLI) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(c.Config); err == nil {
		cfg, err = config.Load(c.Config)
		if err != nil {
			return config.Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return config.Config{}, err
	}
	if token := os.Getenv("DUTCTL_ADMIN_TOKEN"); token != "" {
		cfg.Admin.Token = token
	}
	if c.Instance != "" || c.Socket != "" {
		cfg.Backend = config.BackendTi50
		cfg.Ti50.Instance = c.Instance
		cfg.Ti50.Socket = c.Socket
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (c *CLI) open() (config.Config, transport.Transport, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	tr, err := backend.Open(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, tr, nil
}

// withEmulator runs fn against the backend's emulator handle.
func (c *CLI) withEmulator(fn func(cfg config.Config, emu transport.Emulator) error) error {
	cfg, tr, err := c.open()
	if err != nil {
		return err
	}
	defer tr.Close()
	emu, err := tr.Emulator()
	if err != nil {
		return err
	}
	return fn(cfg, emu)
}

type InitCmd struct {
	Format string `help:"toml or yaml; defaults to the extension of --config."`
	Force  bool   `help:"Overwrite an existing file."`
}

func (i *InitCmd) Run(cli *CLI) error {
	format := i.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(cli.Config), ".")
	}
	if err := config.WriteTemplate(cli.Config, format, i.Force); err != nil {
		return err
	}
	fmt.Println(cli.Config)
	return nil
}

type CapsCmd struct{}

func (CapsCmd) Run(cli *CLI) error {
	_, tr, err := cli.open()
	if err != nil {
		return err
	}
	defer tr.Close()
	for _, name := range tr.Capabilities().Names() {
		fmt.Println(name)
	}
	return nil
}

type StatusCmd struct{}

func (StatusCmd) Run(cli *CLI) error {
	return cli.withEmulator(func(_ config.Config, emu transport.Emulator) error {
		state, err := emu.State()
		fmt.Println(state)
		return err
	})
}

// PowerFlags are shared by start and restart.
type PowerFlags struct {
	FactoryReset bool     `name:"factory-reset" help:"Wipe the runtime state before powering on."`
	Args         []string `name:"arg" short:"a" help:"Emulator argument as key=value or key; repeatable." sep:"none"`
}

// startArgs layers --arg values over the configured defaults.
func (p PowerFlags) startArgs(cfg config.Config) (*dut.Args, error) {
	args, err := cfg.Ti50Emulator.StartArgs()
	if err != nil {
		return nil, err
	}
	for _, raw := range p.Args {
		key, value, err := dut.ParseAssignment(raw)
		if err != nil {
			return nil, err
		}
		args.Set(key, value)
	}
	return args, nil
}

type StartCmd struct {
	PowerFlags `embed:""`
}

func (s *StartCmd) Run(cli *CLI) error {
	return cli.withEmulator(func(cfg config.Config, emu transport.Emulator) error {
		args, err := s.startArgs(cfg)
		if err != nil {
			return err
		}
		return emu.Start(s.FactoryReset, args)
	})
}

type StopCmd struct{}

func (StopCmd) Run(cli *CLI) error {
	return cli.withEmulator(func(_ config.Config, emu transport.Emulator) error {
		return emu.Stop()
	})
}

type RestartCmd struct {
	PowerFlags `embed:""`
}

func (r *RestartCmd) Run(cli *CLI) error {
	return cli.withEmulator(func(cfg config.Config, emu transport.Emulator) error {
		args, err := r.startArgs(cfg)
		if err != nil {
			return err
		}
		return emu.Restart(r.FactoryReset, args)
	})
}
