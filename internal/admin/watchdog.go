package admin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Watchdog polls the emulator state so unexpected child deaths are observed
// between requests.
type Watchdog struct {
	instance string
	tr       transport.Transport
	logger   zerolog.Logger

	mu        sync.Mutex
	scheduler gocron.Scheduler
	last      dut.State
	seen      bool
	checks    int
}

func NewWatchdog(instance string, tr transport.Transport) *Watchdog {
	return &Watchdog{
		instance: instance,
		tr:       tr,
		logger:   log.With().Str("instance", instance).Str("component", "watchdog").Logger(),
	}
}

// Start schedules Check every interval. Backends without an emulator have
// nothing to watch and Start is a no-op.
func (w *Watchdog) Start(interval time.Duration) error {
	if !w.tr.Capabilities().Has(transport.CapEmulator) {
		w.logger.Debug().Msg("watchdog disabled, backend has no emulator")
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return errors.New("admin: watchdog already started")
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(w.Check),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create reconcile job: %w", err)
	}
	s.Start()
	w.scheduler = s
	w.logger.Info().Dur("interval", interval).Msg("watchdog started")
	return nil
}

func (w *Watchdog) Stop() error {
	w.mu.Lock()
	s := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// Check reads the emulator state once and logs transitions.
func (w *Watchdog) Check() {
	emu, err := w.tr.Emulator()
	if err != nil {
		w.logger.Warn().Err(err).Msg("watchdog has no emulator handle")
		return
	}
	state, err := emu.State()
	if err != nil {
		w.logger.Error().Err(err).Str("state", state.String()).Msg("watchdog observed emulator failure")
	}
	observability.SetDUTState(w.instance, state.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.checks++
	if w.seen && w.last != state {
		w.logger.Info().Str("from", w.last.String()).Str("to", state.String()).Msg("watchdog observed state change")
	}
	w.last, w.seen = state, true
}

// Last returns the most recent observed state and how many checks ran.
func (w *Watchdog) Last() (dut.State, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.checks
}
