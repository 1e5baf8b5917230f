// Package config loads dutctl configuration from TOML or YAML.
//
// Files are decoded over Default(), so absent keys keep their defaults.
// Unknown keys are rejected in both formats.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	BackendTi50         = "ti50"
	BackendTi50Emulator = "ti50emulator"
	BackendHardware     = "hardware"
)

var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrSchema        = errors.New("config: schema mismatch")
	ErrInvalid       = errors.New("config: invalid")
)

// Duration reads Go duration strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Backend      string         `toml:"backend" yaml:"backend"`
	Ti50         Ti50Config     `toml:"ti50" yaml:"ti50"`
	Ti50Emulator EmulatorConfig `toml:"ti50emulator" yaml:"ti50emulator"`
	Control      ControlConfig  `toml:"control" yaml:"control"`
	Admin        AdminConfig    `toml:"admin" yaml:"admin"`
	Hardware     HardwareConfig `toml:"hardware" yaml:"hardware"`
}

// Ti50Config targets an emulator instance that is already running.
type Ti50Config struct {
	Instance string `toml:"instance" yaml:"instance"`
	// Socket overrides the path derived from Instance.
	Socket   string `toml:"socket" yaml:"socket"`
	Baudrate uint32 `toml:"baudrate" yaml:"baudrate"`
	Exec     string `toml:"exec" yaml:"exec"`
}

type EmulatorConfig struct {
	ExecutableDir string            `toml:"executable_dir" yaml:"executable_dir"`
	Executable    string            `toml:"executable" yaml:"executable"`
	Prefix        string            `toml:"prefix" yaml:"prefix"`
	Base          string            `toml:"base" yaml:"base"`
	RetryBudget   int               `toml:"retry_budget" yaml:"retry_budget"`
	PollInterval  Duration          `toml:"poll_interval" yaml:"poll_interval"`
	ReadyToken    string            `toml:"ready_token" yaml:"ready_token"`
	Env           []string          `toml:"env" yaml:"env"`
	Args          map[string]string `toml:"args" yaml:"args"`
}

type ControlConfig struct {
	ConnectTimeout Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout" yaml:"write_timeout"`
	MaxRecordBytes int      `toml:"max_record_bytes" yaml:"max_record_bytes"`
}

type AdminConfig struct {
	Listen            string   `toml:"listen" yaml:"listen"`
	CorsOrigins       []string `toml:"cors_origins" yaml:"cors_origins"`
	ReconcileInterval Duration `toml:"reconcile_interval" yaml:"reconcile_interval"`

	// Token guards the power routes when set. DUTCTL_ADMIN_TOKEN overrides it.
	Token string    `toml:"token" yaml:"token"`
	TLS   TLSConfig `toml:"tls" yaml:"tls"`
}

// TLSConfig serves the admin API over HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `toml:"cert_file" yaml:"cert_file"`
	KeyFile  string `toml:"key_file" yaml:"key_file"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

type HardwareConfig struct {
	Uarts map[string]UartEntry `toml:"uarts" yaml:"uarts"`
	// Gpios maps ids to kernel GPIO line numbers.
	Gpios map[string]int      `toml:"gpios" yaml:"gpios"`
	Spi   map[string]SpiEntry `toml:"spi" yaml:"spi"`
	// I2c maps bus ids to /dev/i2c-N nodes.
	I2c map[string]string `toml:"i2c" yaml:"i2c"`
}

type UartEntry struct {
	Path     string `toml:"path" yaml:"path"`
	Baudrate uint32 `toml:"baudrate" yaml:"baudrate"`
}

type SpiEntry struct {
	Device     string `toml:"device" yaml:"device"`
	Mode       uint8  `toml:"mode" yaml:"mode"`
	MaxSpeed   uint32 `toml:"max_speed" yaml:"max_speed"`
	ChipSelect string `toml:"chip_select" yaml:"chip_select"`
}

func Default() Config {
	return Config{
		Backend: BackendTi50Emulator,
		Ti50: Ti50Config{
			Baudrate: 7200,
		},
		Ti50Emulator: EmulatorConfig{
			Executable:   "dutemu",
			Prefix:       "ti50",
			Base:         "/tmp",
			RetryBudget:  3,
			PollInterval: Duration{100 * time.Millisecond},
			ReadyToken:   "READY",
		},
		Control: ControlConfig{
			ConnectTimeout: Duration{5 * time.Second},
			ReadTimeout:    Duration{5 * time.Second},
			WriteTimeout:   Duration{5 * time.Second},
			MaxRecordBytes: 128 * 1024,
		},
		Admin: AdminConfig{
			Listen:            "127.0.0.1:9400",
			CorsOrigins:       []string{"http://localhost:3000"},
			ReconcileInterval: Duration{2 * time.Second},
		},
	}
}

// Load picks the decoder from the file extension and validates the result.
func Load(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = loadTOML(path)
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadTOML(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w in %s: unknown keys %s", ErrSchema, path, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("backend") {
		cfg.Backend = inferBackend(func(section string) bool { return meta.IsDefined(section) })
	}
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return Config{}, fmt.Errorf("%w in %s: %s", ErrSchema, path, strings.Join(typeErr.Errors, "; "))
		}
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if _, ok := top["backend"]; !ok {
		cfg.Backend = inferBackend(func(section string) bool {
			_, ok := top[section]
			return ok
		})
	}
	return cfg, nil
}

// inferBackend picks the backend from the sections present when the file
// does not name one.
func inferBackend(defined func(section string) bool) string {
	switch {
	case defined(BackendHardware):
		return BackendHardware
	case defined(BackendTi50):
		return BackendTi50
	default:
		return BackendTi50Emulator
	}
}

func Validate(cfg Config) error {
	var problems []string
	switch cfg.Backend {
	case BackendTi50:
		if strings.TrimSpace(cfg.Ti50.Instance) == "" && strings.TrimSpace(cfg.Ti50.Socket) == "" {
			problems = append(problems, "ti50 requires instance or socket")
		}
	case BackendTi50Emulator:
		if strings.TrimSpace(cfg.Ti50Emulator.Executable) == "" {
			problems = append(problems, "ti50emulator.executable is required")
		}
		if strings.TrimSpace(cfg.Ti50Emulator.Prefix) == "" {
			problems = append(problems, "ti50emulator.prefix is required")
		}
		if cfg.Ti50Emulator.RetryBudget <= 0 {
			problems = append(problems, "ti50emulator.retry_budget must be positive")
		}
		if cfg.Ti50Emulator.PollInterval.Duration <= 0 {
			problems = append(problems, "ti50emulator.poll_interval must be positive")
		}
	case BackendHardware:
		problems = append(problems, validateHardware(cfg.Hardware)...)
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}

	for name, d := range map[string]Duration{
		"control.connect_timeout":  cfg.Control.ConnectTimeout,
		"control.read_timeout":     cfg.Control.ReadTimeout,
		"control.write_timeout":    cfg.Control.WriteTimeout,
		"admin.reconcile_interval": cfg.Admin.ReconcileInterval,
	} {
		if d.Duration <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if cfg.Control.MaxRecordBytes <= 0 {
		problems = append(problems, "control.max_record_bytes must be positive")
	}
	if strings.TrimSpace(cfg.Admin.Listen) == "" {
		problems = append(problems, "admin.listen is required")
	}
	if tls := cfg.Admin.TLS; tls.Enabled() {
		if strings.TrimSpace(tls.CertFile) == "" {
			problems = append(problems, "admin.tls.cert_file is required with key_file")
		}
		if strings.TrimSpace(tls.KeyFile) == "" {
			problems = append(problems, "admin.tls.key_file is required with cert_file")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func validateHardware(hw HardwareConfig) []string {
	var problems []string
	for id, u := range hw.Uarts {
		if strings.TrimSpace(u.Path) == "" {
			problems = append(problems, fmt.Sprintf("hardware.uarts.%s.path is required", id))
		}
	}
	for id, line := range hw.Gpios {
		if line < 0 {
			problems = append(problems, fmt.Sprintf("hardware.gpios.%s must not be negative", id))
		}
	}
	for id, s := range hw.Spi {
		if strings.TrimSpace(s.Device) == "" {
			problems = append(problems, fmt.Sprintf("hardware.spi.%s.device is required", id))
		}
		if s.Mode > 3 {
			problems = append(problems, fmt.Sprintf("hardware.spi.%s.mode must be 0-3", id))
		}
		if s.ChipSelect != "" {
			if _, ok := hw.Gpios[s.ChipSelect]; !ok {
				problems = append(problems, fmt.Sprintf("hardware.spi.%s.chip_select names unknown gpio %q", id, s.ChipSelect))
			}
		}
	}
	for id, dev := range hw.I2c {
		if strings.TrimSpace(dev) == "" {
			problems = append(problems, fmt.Sprintf("hardware.i2c.%s device is required", id))
		}
	}
	if len(hw.Uarts)+len(hw.Gpios)+len(hw.Spi)+len(hw.I2c) == 0 {
		problems = append(problems, "hardware backend configures no interfaces")
	}
	return problems
}
