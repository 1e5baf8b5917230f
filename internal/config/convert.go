package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/protocol/frame"
	"github.com/danmuck/dutctl/internal/supervisor"
)

func (c ControlConfig) ChannelConfig() control.Config {
	return control.Config{
		ConnectTimeout: c.ConnectTimeout.Duration,
		ReadTimeout:    c.ReadTimeout.Duration,
		WriteTimeout:   c.WriteTimeout.Duration,
		Limits:         frame.Limits{MaxRecordBytes: c.MaxRecordBytes},
	}
}

// SupervisorConfig resolves an empty executable_dir to the directory of the
// running binary, where dutemu is installed next to dutctl.
func (c EmulatorConfig) SupervisorConfig() (supervisor.Config, error) {
	cfg := supervisor.DefaultConfig()
	dir := c.ExecutableDir
	if dir == "" {
		self, err := os.Executable()
		if err != nil {
			return supervisor.Config{}, err
		}
		dir = filepath.Dir(self)
	}
	cfg.ExecutableDir = dir
	cfg.Executable = c.Executable
	cfg.RetryBudget = c.RetryBudget
	cfg.PollInterval = c.PollInterval.Duration
	cfg.ReadyToken = c.ReadyToken
	cfg.Env = append([]string(nil), c.Env...)
	return cfg, nil
}

// StartArgs parses the configured default emulator arguments.
func (c EmulatorConfig) StartArgs() (*dut.Args, error) {
	args := dut.NewArgs()
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args.Set(k, dut.ParseValue(c.Args[k]))
	}
	if err := supervisor.ValidateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
