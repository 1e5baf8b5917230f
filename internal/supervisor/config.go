package supervisor

import (
	"os"
	"time"

	"github.com/danmuck/dutctl/internal/tools"
)

// Config controls how the emulator child is spawned and polled.
type Config struct {
	ExecutableDir string
	Executable    string
	// RetryBudget bounds readiness accepts and stop liveness probes.
	RetryBudget  int
	PollInterval time.Duration
	ReadyToken   string
	// Env is appended to the inherited environment of the child.
	Env    []string
	Stdout *os.File
	Stderr *os.File

	Launcher tools.Launcher
}

func DefaultConfig() Config {
	return Config{
		RetryBudget:  3,
		PollInterval: 100 * time.Millisecond,
		ReadyToken:   "READY",
		Launcher:     tools.ExecLauncher{},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RetryBudget <= 0 {
		c.RetryBudget = def.RetryBudget
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReadyToken == "" {
		c.ReadyToken = def.ReadyToken
	}
	if c.Launcher == nil {
		c.Launcher = def.Launcher
	}
	return c
}
