//go:build !linux

package hardware

import (
	"os"

	"github.com/danmuck/dutctl/internal/transport"
)

func configureTTY(*os.File, uint32) error {
	return transport.Unsupported("terminal configuration on this platform")
}
