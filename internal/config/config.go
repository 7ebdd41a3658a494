package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the environment variable consulted when no --config flag is given.
	EnvConfigPath = "NOPFILL_CONFIG"

	BackendRod        = "rod"
	BackendPlaywright = "playwright"
)

// Config captures every tunable setting for a form-filling run. A Config is
// loaded once at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Browser  BrowserConfig  `yaml:"browser"`
	Target   TargetConfig   `yaml:"target"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Mapping  MappingConfig  `yaml:"mapping"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Recorder RecorderConfig `yaml:"recorder"`
	MCP      MCPConfig      `yaml:"mcp"`

	// NOP holds an inline mapping document (pages + transformations) when
	// mapping.path is empty. Kept as a node so field order survives decoding.
	NOP yaml.Node `yaml:"nop"`

	// dir is the directory of the loaded config file, used to resolve relative paths.
	dir string
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LogConfig configures the zap logger and its optional rotating file sink.
type LogConfig struct {
	// Level is one of debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is console | json.
	Format string `yaml:"format"`
	// File enables a JSON file sink rotated by lumberjack.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// BrowserConfig configures how we launch or attach to Chrome.
type BrowserConfig struct {
	// Backend selects the automation driver: rod (default) or playwright.
	Backend string `yaml:"backend"`
	// Bin is the browser executable. Empty lets the driver locate or download one.
	Bin string `yaml:"bin"`
	// Extra Chrome flags, e.g. ["--disable-gpu", "--lang=en-CA"].
	Flags []string `yaml:"flags"`
	// DebuggerURL attaches to an already running Chrome instead of launching (rod only).
	DebuggerURL string `yaml:"debugger_url"`
	// Headless defaults to false: the operator watches and verifies the filled form.
	Headless *bool `yaml:"headless"`
	// Viewport for the form page (default: 1400x900).
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

// TargetConfig points at the hosted form application.
type TargetConfig struct {
	URL       string `yaml:"url"`
	StartPage string `yaml:"start_page"`
}

// TimeoutConfig holds every wait used by the filler and the navigation monitor.
// Durations are strings such as "500ms" or "10s".
type TimeoutConfig struct {
	FieldInteractionDelay     string `yaml:"field_interaction_delay"`
	Short                     string `yaml:"short"`
	Standard                  string `yaml:"standard"`
	Navigation                string `yaml:"navigation"`
	AddressSettle             string `yaml:"address_settle"`
	NetworkIdle               string `yaml:"network_idle"`
	PageLoad                  string `yaml:"page_load"`
	PollInterval              string `yaml:"poll_interval"`
	NextButtonCheckInterval   string `yaml:"next_button_check_interval"`
	PeriodicPageCheckInterval string `yaml:"periodic_page_check_interval"`
	// ContentChangeThreshold is the innerHTML length delta treated as a new view.
	ContentChangeThreshold int `yaml:"content_change_threshold"`
}

// MappingConfig locates the field mapping document.
type MappingConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig controls the Mangle-backed fill ledger.
type LedgerConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls JSONL trace files.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

type MCPConfig struct {
	// When set, serves MCP over SSE on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides defaults matching the production WorkSafeBC form.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "nopfill",
			Version: "0.3.0",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Browser: BrowserConfig{
			Backend:        BackendRod,
			ViewportWidth:  1400,
			ViewportHeight: 900,
		},
		Target: TargetConfig{
			URL:       "https://prevnop.online.worksafebc.com/",
			StartPage: "general-information",
		},
		Timeouts: TimeoutConfig{
			FieldInteractionDelay:     "50ms",
			Short:                     "300ms",
			Standard:                  "1s",
			Navigation:                "500ms",
			AddressSettle:             "1s",
			NetworkIdle:               "500ms",
			PageLoad:                  "30s",
			PollInterval:              "1s",
			NextButtonCheckInterval:   "5s",
			PeriodicPageCheckInterval: "10s",
			ContentChangeThreshold:    500,
		},
		Ledger: LedgerConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			TraceDir: "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.dir = filepath.Dir(path)
	cfg = resolvePaths(cfg)
	return cfg, cfg.Validate()
}

// resolvePaths resolves relative paths in the config against the config file directory.
func resolvePaths(cfg Config) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || cfg.dir == "" {
			return p
		}
		return filepath.Join(cfg.dir, p)
	}

	cfg.Mapping.Path = resolve(cfg.Mapping.Path)
	cfg.Ledger.SchemaPath = resolve(cfg.Ledger.SchemaPath)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	cfg.Log.File = resolve(cfg.Log.File)
	return cfg
}

// Validate ensures required fields exist so a run can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	switch c.Browser.Backend {
	case "", BackendRod, BackendPlaywright:
	default:
		return fmt.Errorf("browser.backend %q is not supported (want %s or %s)", c.Browser.Backend, BackendRod, BackendPlaywright)
	}
	if c.Browser.DebuggerURL != "" && c.Browser.Backend == BackendPlaywright {
		return errors.New("browser.debugger_url is only supported by the rod backend")
	}
	if c.Target.URL == "" {
		return errors.New("target.url is required")
	}
	if c.Target.StartPage == "" {
		return errors.New("target.start_page is required")
	}
	if c.Mapping.Path == "" && c.NOP.Kind == 0 {
		return errors.New("mapping.path or an inline nop block is required")
	}
	if c.Timeouts.ContentChangeThreshold < 0 {
		return errors.New("timeouts.content_change_threshold must not be negative")
	}
	return nil
}

// StartURL joins the target URL and the start page name.
func (t TargetConfig) StartURL() string {
	if t.StartPage == "" {
		return t.URL
	}
	return strings.TrimRight(t.URL, "/") + "/" + strings.TrimLeft(t.StartPage, "/")
}

// BackendName returns the configured backend with the rod default applied.
func (b BrowserConfig) BackendName() string {
	if b.Backend == "" {
		return BackendRod
	}
	return b.Backend
}

// IsHeadless returns whether Chrome should run headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1400
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 900
	}
	return b.ViewportHeight
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func (t TimeoutConfig) FieldInteraction() time.Duration {
	return parseDuration(t.FieldInteractionDelay, 50*time.Millisecond)
}

func (t TimeoutConfig) ShortWait() time.Duration {
	return parseDuration(t.Short, 300*time.Millisecond)
}

func (t TimeoutConfig) StandardWait() time.Duration {
	return parseDuration(t.Standard, time.Second)
}

// NavigationWait is the settle delay after a Next click before detection runs.
func (t TimeoutConfig) NavigationWait() time.Duration {
	return parseDuration(t.Navigation, 500*time.Millisecond)
}

func (t TimeoutConfig) AddressSettleWait() time.Duration {
	return parseDuration(t.AddressSettle, time.Second)
}

// NetworkIdleWindow is how long the network must be quiet to count as idle.
func (t TimeoutConfig) NetworkIdleWindow() time.Duration {
	return parseDuration(t.NetworkIdle, 500*time.Millisecond)
}

func (t TimeoutConfig) PageLoadTimeout() time.Duration {
	return parseDuration(t.PageLoad, 30*time.Second)
}

func (t TimeoutConfig) Poll() time.Duration {
	return parseDuration(t.PollInterval, time.Second)
}

func (t TimeoutConfig) NextButtonCheck() time.Duration {
	return parseDuration(t.NextButtonCheckInterval, 5*time.Second)
}

func (t TimeoutConfig) PeriodicPageCheck() time.Duration {
	return parseDuration(t.PeriodicPageCheckInterval, 10*time.Second)
}

// HasInlineMapping reports whether the config carries its own nop block.
func (c Config) HasInlineMapping() bool {
	return c.NOP.Kind != 0
}
