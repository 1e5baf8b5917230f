package transport

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRequire(t *testing.T) {
	testlog.Start(t)

	caps := CapUart | CapGpio | CapEmulator
	require.True(t, caps.Has(CapUart))
	require.True(t, caps.Has(CapUart|CapGpio))
	require.False(t, caps.Has(CapSpi))
	require.NoError(t, caps.Require(CapUart, CapEmulator))

	err := caps.Require(CapGpio, CapSpi, CapI2c)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	require.Contains(t, err.Error(), "spi|i2c")
	require.Equal(t, "uart|gpio|emulator", caps.String())
	require.Equal(t, "none", Capability(0).String())
}

func TestInvalidInstanceError(t *testing.T) {
	testlog.Start(t)

	var err error = &InvalidInstanceError{Kind: "uart", ID: "7"}
	require.ErrorIs(t, err, ErrInvalidInstance)
	require.NotErrorIs(t, err, ErrUnsupportedOperation)
	require.Contains(t, err.Error(), `"7"`)
}

func TestCacheBuildsOncePerID(t *testing.T) {
	testlog.Start(t)

	var cache Cache[*int]
	builds := 0
	build := func() (*int, error) {
		builds++
		v := builds
		return &v, nil
	}

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Get("reset", build)
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, builds)
	for _, r := range results {
		require.Same(t, results[0], r)
	}

	other, err := cache.Get("power", build)
	require.NoError(t, err)
	require.NotSame(t, results[0], other)
	require.Equal(t, []string{"power", "reset"}, cache.IDs())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	testlog.Start(t)

	var cache Cache[string]
	calls := 0
	_, err := cache.Get("0", func() (string, error) {
		calls++
		return "", errors.New("not ready")
	})
	require.Error(t, err)
	require.Equal(t, 0, cache.Len())

	v, err := cache.Get("0", func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, calls)
}

func TestCacheDrainRefusesLaterBuilds(t *testing.T) {
	testlog.Start(t)

	var lazy Lazy[string]
	v, err := lazy.Get(func() (string, error) { return "emu", nil })
	require.NoError(t, err)
	require.Equal(t, "emu", v)
	require.Equal(t, []string{"emu"}, lazy.Drain())

	_, err = lazy.Get(func() (string, error) { return "again", nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestCacheEvictRebuilds(t *testing.T) {
	testlog.Start(t)

	var c Cache[int]
	calls := 0
	build := func() (int, error) {
		calls++
		return calls, nil
	}
	first, err := c.Get("0", build)
	require.NoError(t, err)
	require.Equal(t, []int{first}, c.Values())
	require.Equal(t, 1, c.Len(), "values leaves the cache intact")
	require.Equal(t, []int{first}, c.Evict())
	require.Zero(t, c.Len())

	second, err := c.Get("0", build)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestUnimplementedFailsEveryAccessor(t *testing.T) {
	testlog.Start(t)

	var tr Transport = Unimplemented{}
	require.Equal(t, Capability(0), tr.Capabilities())
	_, err := tr.Uart("0")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = tr.GpioPin("a")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = tr.Spi("0")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = tr.I2c("0")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = tr.Emulator()
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	require.NoError(t, tr.Close())
}

func TestParseModes(t *testing.T) {
	testlog.Start(t)

	m, err := ParsePinMode("open-drain")
	require.NoError(t, err)
	require.Equal(t, OpenDrain, m)
	_, err = ParsePinMode("analog")
	require.Error(t, err)

	p, err := ParsePullMode("down")
	require.NoError(t, err)
	require.Equal(t, PullDown, p)
}

// chunkedUart replays chunks through ReadTimeout, then reports idle.
type chunkedUart struct {
	mu     sync.Mutex
	chunks []string
}

func (u *chunkedUart) Baudrate() (uint32, error) { return 115200, nil }
func (u *chunkedUart) SetBaudrate(uint32) error  { return nil }
func (u *chunkedUart) Read(buf []byte) (int, error) {
	return u.ReadTimeout(buf, time.Second)
}
func (u *chunkedUart) Write([]byte) error { return nil }

func (u *chunkedUart) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.chunks) == 0 {
		time.Sleep(timeout / 10)
		return 0, nil
	}
	n := copy(buf, u.chunks[0])
	u.chunks = u.chunks[1:]
	return n, nil
}

func TestReadSubmatchAcrossChunks(t *testing.T) {
	testlog.Start(t)

	uart := &chunkedUart{chunks: []string{"boot rom v1\n", "Console rea", "dy, fw=0.24", ".1\n"}}
	got, err := ReadSubmatch(context.Background(), uart, regexp.MustCompile(`fw=([0-9.]+)\n`))
	require.NoError(t, err)
	require.Equal(t, []string{"fw=0.24.1\n", "0.24.1"}, got)
}

func TestReadSubmatchHonoursContext(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := ReadSubmatch(ctx, &chunkedUart{chunks: []string{"noise"}}, regexp.MustCompile(`never`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
