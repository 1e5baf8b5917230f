package ti50emulator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"

	"github.com/danmuck/dutctl/internal/emulator"
)

// childEnv turns the test binary into a running emulator.
const childEnv = "DUTCTL_TEST_EMULATOR"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) != "" {
		os.Exit(runChild(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runChild(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg := emulator.DefaultConfig()
	cfg.Path = flagValue(args, "--path")
	cfg.ControlSocket = flagValue(args, "--control_socket")
	if err := emulator.New(cfg).Run(ctx); err != nil {
		return 1
	}
	return 0
}

func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
