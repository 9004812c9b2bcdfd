// Package config holds the kernel host's configuration, read from TOML.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"webkernel/pkg/auth"
	"webkernel/pkg/security"

	"github.com/BurntSushi/toml"
)

// AppConfig represents the complete configuration.
type AppConfig struct {
	// Kernel contains the kernel tunables.
	Kernel KernelConfig `toml:"kernel"`

	// Console contains the host console settings.
	Console ConsoleConfig `toml:"console"`

	// Programs lists the host directories loaded into /bin.
	Programs ProgramsConfig `toml:"programs"`

	// Lua contains limits for Lua programs.
	Lua LuaConfig `toml:"lua"`

	// Sandbox attaches pledge and unveil restrictions to programs.
	Sandbox SandboxConfig `toml:"sandbox"`

	// Display contains the window system settings.
	Display DisplayConfig `toml:"display"`

	// Web contains the web console and process API settings.
	Web WebConfig `toml:"web"`

	// Metrics contains the metrics endpoint settings.
	Metrics MetricsConfig `toml:"metrics"`

	// Logging contains logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// KernelConfig contains kernel tunables.
type KernelConfig struct {
	// InitPath is the program spawned as pid 1.
	InitPath string `toml:"init_path"`

	// SleepGranularityMs is the polling step of the sleep syscall.
	SleepGranularityMs int `toml:"sleep_granularity_ms"`

	// ActivityWindowMs is the window userland activity is measured over.
	ActivityWindowMs int `toml:"activity_window_ms"`

	// ActivityHistory bounds the syscall timestamps kept per process.
	ActivityHistory int `toml:"activity_history"`

	// TerminalCols and TerminalRows are the initial pseudoterminal size.
	TerminalCols int `toml:"terminal_cols"`
	TerminalRows int `toml:"terminal_rows"`

	// MaxFiles bounds the fd table of each process.
	MaxFiles int `toml:"max_files"`

	// MaxFileSize bounds files created in the kernel's file tree, in bytes.
	MaxFileSize int64 `toml:"max_file_size"`
}

// SleepGranularity returns the sleep polling step.
func (c KernelConfig) SleepGranularity() time.Duration {
	return time.Duration(c.SleepGranularityMs) * time.Millisecond
}

// ActivityWindow returns the activity window.
func (c KernelConfig) ActivityWindow() time.Duration {
	return time.Duration(c.ActivityWindowMs) * time.Millisecond
}

// ConsoleConfig controls how the host terminal is attached to /dev/con.
type ConsoleConfig struct {
	// Enabled attaches stdin and stdout.
	Enabled bool `toml:"enabled"`

	// Raw puts the host terminal in raw mode while the kernel runs.
	Raw bool `toml:"raw"`
}

// ProgramsConfig lists host program directories.
type ProgramsConfig struct {
	// Dirs are loaded into /bin at boot.
	Dirs []string `toml:"dirs"`

	// Watch reloads changed programs.
	Watch bool `toml:"watch"`
}

// LuaConfig bounds Lua interpreters.
type LuaConfig struct {
	// CallStackSize is the maximum Lua call depth.
	CallStackSize int `toml:"call_stack_size"`

	// RegistrySize is the initial registry size.
	RegistrySize int `toml:"registry_size"`
}

// SandboxConfig restricts processes by the program they run.
type SandboxConfig struct {
	// Programs maps absolute program paths to their restrictions.
	Programs map[string]ProgramSandbox `toml:"programs"`
}

// ProgramSandbox is the restriction of one program.
type ProgramSandbox struct {
	// Promises, when set, is intersected with the parent's promises.
	Promises *string `toml:"promises"`

	// Unveil maps paths to permissions from "rwxc". Unveil is locked
	// afterwards.
	Unveil map[string]string `toml:"unveil"`
}

// Policies builds the sandbox policies of the configured programs.
func (c SandboxConfig) Policies() (*security.Policies, error) {
	policies := security.NewPolicies()
	for program, sb := range c.Programs {
		if !strings.HasPrefix(program, "/") {
			return nil, fmt.Errorf("sandbox program %q must be an absolute path", program)
		}
		policy, err := security.NewPolicy(sb.Promises, sb.Unveil)
		if err != nil {
			return nil, fmt.Errorf("sandbox program %s: %w", program, err)
		}
		if err := policies.Set(program, policy); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// DisplayConfig configures the window system behind the graphics syscall.
type DisplayConfig struct {
	// Enabled makes the graphics syscall available.
	Enabled bool `toml:"enabled"`

	ScreenWidth  int `toml:"screen_width"`
	ScreenHeight int `toml:"screen_height"`
	Desktops     int `toml:"desktops"`
}

// WebConfig configures the web console and the process API.
type WebConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddress string `toml:"listen_address"`

	// Token guards the API and console. Empty generates one at boot and
	// logs it masked; "none" disables authentication.
	Token string `toml:"token"`

	// TLSCert and TLSKey serve HTTPS when both are set.
	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`

	// Console mirrors /dev/con to websocket clients.
	Console    bool `toml:"console"`
	MaxClients int  `toml:"max_clients"`
	Scrollback int  `toml:"scrollback"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddress string `toml:"listen_address"`
	MetricsPath   string `toml:"metrics_path"`
}

// LoggingConfig configures phuslu/log.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level"`

	// Format is auto, logfmt or json.
	Format string `toml:"format"`

	// Writer is stderr or stdout.
	Writer string `toml:"writer"`

	// File, when set, writes logs to a rotating file instead.
	File string `toml:"file"`

	Caller       int    `toml:"caller"`
	TimeField    string `toml:"time_field"`
	TimeFormat   string `toml:"time_format"`
	TimeLocation string `toml:"time_location"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Kernel: KernelConfig{
			InitPath:           "/sys/init",
			SleepGranularityMs: 10,
			ActivityWindowMs:   1000,
			ActivityHistory:    64,
			TerminalCols:       80,
			TerminalRows:       24,
			MaxFiles:           256,
			MaxFileSize:        16 << 20,
		},
		Console: ConsoleConfig{
			Enabled: true,
			Raw:     false,
		},
		Programs: ProgramsConfig{
			Dirs:  []string{},
			Watch: false,
		},
		Lua: LuaConfig{
			CallStackSize: 256,
			RegistrySize:  1024 * 20,
		},
		Display: DisplayConfig{
			Enabled:      true,
			ScreenWidth:  1280,
			ScreenHeight: 800,
			Desktops:     4,
		},
		Web: WebConfig{
			Enabled:       false,
			ListenAddress: "localhost:8420",
			Console:       true,
			MaxClients:    16,
			Scrollback:    64 * 1024,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "auto",
			Writer:       "stderr",
			TimeField:    "time",
			TimeLocation: "Local",
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
// for every key the file leaves out.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// Decode parses TOML text over the defaults.
func Decode(text string) (*AppConfig, error) {
	config := DefaultConfig()
	if _, err := toml.Decode(text, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// GenerateExampleConfig writes the default configuration to outputPath.
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := "# webkernel configuration\n\n"
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *AppConfig) Validate() error {
	if c.Kernel.InitPath == "" {
		return fmt.Errorf("kernel.init_path cannot be empty")
	}
	if c.Kernel.SleepGranularityMs <= 0 {
		return fmt.Errorf("kernel.sleep_granularity_ms must be positive")
	}
	if c.Kernel.ActivityWindowMs <= 0 {
		return fmt.Errorf("kernel.activity_window_ms must be positive")
	}
	if c.Kernel.ActivityHistory < 2 {
		return fmt.Errorf("kernel.activity_history must be at least 2")
	}
	if c.Kernel.TerminalCols <= 0 || c.Kernel.TerminalRows <= 0 {
		return fmt.Errorf("kernel.terminal_cols and kernel.terminal_rows must be positive")
	}
	if c.Kernel.MaxFiles < 3 {
		return fmt.Errorf("kernel.max_files must be at least 3")
	}
	if c.Kernel.MaxFileSize <= 0 {
		return fmt.Errorf("kernel.max_file_size must be positive")
	}
	if c.Lua.CallStackSize <= 0 {
		return fmt.Errorf("lua.call_stack_size must be positive")
	}
	if c.Display.Enabled && (c.Display.ScreenWidth <= 0 || c.Display.ScreenHeight <= 0) {
		return fmt.Errorf("display.screen_width and display.screen_height must be positive")
	}
	if _, err := c.Sandbox.Policies(); err != nil {
		return err
	}
	if c.Web.Enabled {
		if c.Web.ListenAddress == "" {
			return fmt.Errorf("web.listen_address cannot be empty")
		}
		if (c.Web.TLSCert == "") != (c.Web.TLSKey == "") {
			return fmt.Errorf("web.tls_cert and web.tls_key must be set together")
		}
		if c.Web.Token != "" && c.Web.Token != "none" {
			if err := auth.ParseToken(c.Web.Token); err != nil {
				return fmt.Errorf("web.token: %w", err)
			}
		}
		if c.Web.Console && c.Web.MaxClients <= 0 {
			return fmt.Errorf("web.max_clients must be positive")
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address cannot be empty")
		}
		if c.Metrics.MetricsPath == "" {
			return fmt.Errorf("metrics.metrics_path cannot be empty")
		}
	}
	return nil
}

// Flags holds the command-line flags.
type Flags struct {
	ConfigPath     string
	GenerateConfig string
	ProgramDirs    string
	ListenAddress  string
	WebAddress     string
}

// NewConfig parses flags, loads the config file and applies overrides.
// It returns a nil config without error when the program should exit
// cleanly.
func NewConfig() (*AppConfig, error) {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.StringVar(&flags.ProgramDirs,
		"programs",
		"",
		"Host directory of programs to load into /bin.")
	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		"",
		"Serve metrics on this address.")
	flag.StringVar(&flags.WebAddress,
		"web.console-address",
		"",
		"Serve the web console and process API on this address.")
	flag.Parse()

	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil
	}

	config, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	if flags.ProgramDirs != "" {
		config.Programs.Dirs = append(config.Programs.Dirs, flags.ProgramDirs)
	}
	if flags.ListenAddress != "" {
		config.Metrics.Enabled = true
		config.Metrics.ListenAddress = flags.ListenAddress
	}
	if flags.WebAddress != "" {
		config.Web.Enabled = true
		config.Web.ListenAddress = flags.WebAddress
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
