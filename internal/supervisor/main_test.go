package supervisor

import (
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// emulatorModeEnv turns the test binary into a fake emulator child.
const emulatorModeEnv = "DUTCTL_TEST_EMULATOR"

func TestMain(m *testing.M) {
	if mode := os.Getenv(emulatorModeEnv); mode != "" {
		os.Exit(runFakeEmulator(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runFakeEmulator(mode string, args []string) int {
	if mode == "exit-fail" {
		return 3
	}
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
	}
	if path := flagValue(args, "--path"); path != "" {
		_ = os.WriteFile(filepath.Join(path, "argv"), []byte(strings.Join(args, "\n")), 0o600)
	}
	if mode != "silent" {
		conn, err := net.Dial("unix", flagValue(args, "--control_socket"))
		if err != nil {
			return 2
		}
		_, _ = conn.Write([]byte("READY\n"))
		_ = conn.Close()
	}
	switch mode {
	case "crash-after-ready":
		time.Sleep(200 * time.Millisecond)
		return 4
	case "exit-after-ready":
		time.Sleep(200 * time.Millisecond)
		return 0
	}
	for {
		time.Sleep(time.Hour)
	}
}

func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
