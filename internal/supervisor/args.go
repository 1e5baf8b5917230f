package supervisor

import (
	"github.com/danmuck/dutctl/internal/dut"
)

const (
	argPath          = "path"
	argControlSocket = "control_socket"
)

// Keys the supervisor injects itself or that would hijack the child's stdio.
var forbiddenArgs = map[string]struct{}{
	"p":              {},
	argPath:          {},
	"s":              {},
	"stdio":          {},
	argControlSocket: {},
}

var allowedArgs = map[string]struct{}{
	"flash":         {},
	"apps":          {},
	"version_state": {},
	"pmu_state":     {},
}

// ValidateArgs rejects the first argument name that is forbidden or unknown.
func ValidateArgs(args *dut.Args) error {
	for _, key := range args.Keys() {
		if _, ok := forbiddenArgs[key]; ok {
			return &dut.InvalidArgumentNameError{Key: key}
		}
		if _, ok := allowedArgs[key]; !ok {
			return &dut.InvalidArgumentNameError{Key: key}
		}
	}
	return nil
}

// composeArgs merges requested into current and re-appends the injected keys
// so they always come last.
func composeArgs(current, requested *dut.Args, runtimeDir, controlSocket string) *dut.Args {
	merged := current.Clone()
	merged.Merge(requested)
	merged.Delete(argPath)
	merged.Delete(argControlSocket)
	merged.Set(argPath, dut.FilePath(runtimeDir))
	merged.Set(argControlSocket, dut.FilePath(controlSocket))
	return merged
}
