package admin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/danmuck/dutctl/internal/testutil/tlstest"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeEmulator struct {
	mu           sync.Mutex
	state        dut.State
	lastArgs     *dut.Args
	factoryReset bool
}

func (f *fakeEmulator) State() (dut.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeEmulator) Start(factoryReset bool, args *dut.Args) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == dut.On {
		return dut.ErrAlreadyRunning
	}
	if _, ok := args.Get("path"); ok {
		return &dut.InvalidArgumentNameError{Key: "path"}
	}
	f.state, f.lastArgs, f.factoryReset = dut.On, args, factoryReset
	return nil
}

func (f *fakeEmulator) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == dut.Off {
		return dut.ErrAlreadyOff
	}
	f.state = dut.Off
	return nil
}

func (f *fakeEmulator) Restart(factoryReset bool, args *dut.Args) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.lastArgs, f.factoryReset = dut.On, args, factoryReset
	return nil
}

func (f *fakeEmulator) set(state dut.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

type fakeTransport struct {
	transport.Unimplemented
	emu *fakeEmulator
}

func (f *fakeTransport) Capabilities() transport.Capability {
	if f.emu == nil {
		return transport.CapGpio
	}
	return transport.CapGpio | transport.CapEmulator
}

func (f *fakeTransport) Emulator() (transport.Emulator, error) {
	if f.emu == nil {
		return nil, transport.Unsupported("emulator")
	}
	return f.emu, nil
}

func (f *fakeTransport) Close() error { return nil }

func newServer(t *testing.T, emu *fakeEmulator) *Server {
	t.Helper()
	return newServerWith(t, emu, config.Default().Admin)
}

func newServerWith(t *testing.T, emu *fakeEmulator, cfg config.AdminConfig) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	defaults := dut.NewArgs()
	defaults.Set("flash", dut.FilePath("/img/flash.bin"))
	return New("ti50_test", &fakeTransport{emu: emu}, cfg, defaults)
}

func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestStatusAndCapabilities(t *testing.T) {
	testlog.Start(t)

	s := newServer(t, &fakeEmulator{state: dut.Off})
	code, body := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "off", body["state"])
	require.Equal(t, "ti50_test", body["instance"])

	code, body = do(t, s, http.MethodGet, "/capabilities", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"gpio", "emulator"}, body["capabilities"])

	code, _ = do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
}

func TestStartStopRoutes(t *testing.T) {
	testlog.Start(t)

	emu := &fakeEmulator{state: dut.Off}
	s := newServer(t, emu)

	code, body := do(t, s, http.MethodPost, "/start", `{"factory_reset":true,"args":{"apps":"a.bin,b.bin"}}`)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "on", body["state"])
	require.True(t, emu.factoryReset)
	require.Equal(t, []string{"--flash", "/img/flash.bin", "--apps", "a.bin,b.bin"}, emu.lastArgs.CommandLine())

	code, body = do(t, s, http.MethodPost, "/start", "")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, body["error"], "already")

	code, _ = do(t, s, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, s, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusConflict, code)

	code, _ = do(t, s, http.MethodPost, "/start", `{"args":{"path":"/elsewhere"}}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/start", `{"args":`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, s, http.MethodPost, "/restart", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "on", body["state"])
}

func TestRoutesWithoutEmulator(t *testing.T) {
	testlog.Start(t)

	s := newServer(t, nil)
	code, body := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusNotImplemented, code)
	require.Contains(t, body["error"], "emulator")

	code, _ = do(t, s, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusNotImplemented, code)

	require.NoError(t, s.Watchdog().Start(10*time.Millisecond), "no emulator means nothing to watch")
	require.NoError(t, s.Watchdog().Stop())
}

func TestMetricsRoute(t *testing.T) {
	testlog.Start(t)

	s := newServer(t, &fakeEmulator{state: dut.On})
	do(t, s, http.MethodGet, "/status", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "dutctl_http_requests_total")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	testlog.Start(t)

	s := newServer(t, &fakeEmulator{})
	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))
}

func TestWatchdogObservesTransitions(t *testing.T) {
	testlog.Start(t)

	emu := &fakeEmulator{state: dut.On}
	s := newServer(t, emu)
	w := s.Watchdog()
	require.NoError(t, w.Start(10*time.Millisecond))
	t.Cleanup(func() { _ = w.Stop() })
	require.Error(t, w.Start(10*time.Millisecond))

	require.Eventually(t, func() bool {
		state, checks := w.Last()
		return checks > 0 && state == dut.On
	}, 2*time.Second, 10*time.Millisecond)

	emu.set(dut.Error)
	require.Eventually(t, func() bool {
		state, _ := w.Last()
		return state == dut.Error
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPowerRoutesRequireToken(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default().Admin
	cfg.Token = "s3cret"
	emu := &fakeEmulator{state: dut.On}
	s := newServerWith(t, emu, cfg)

	code, _ := do(t, s, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusUnauthorized, code)
	state, _ := emu.State()
	require.Equal(t, dut.On, state)

	code, _ = do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code, "read routes stay open")

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ = emu.State()
	require.Equal(t, dut.Off, state)
}

func TestServeListenerOverTLS(t *testing.T) {
	testlog.Start(t)

	ca := tlstest.NewAuthority(t, "dutctl-test-ca")
	cfg := config.Default().Admin
	cfg.TLS.CertFile, cfg.TLS.KeyFile = ca.IssueServer(t, t.TempDir(), "127.0.0.1")
	s := newServerWith(t, &fakeEmulator{state: dut.On}, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: ca.Pool()}},
	}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("https://" + ln.Addr().String() + "/status")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"state":"on"`)

	cancel()
	require.NoError(t, <-done)
}
