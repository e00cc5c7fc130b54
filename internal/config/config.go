// Package config loads dashboard settings from flags, DASHBOARD_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys, also used as flag names.
const (
	KeyPort           = "port"
	KeyToken          = "token"
	KeyTokenConfig    = "token-config"
	KeyPollInterval   = "poll-interval"
	KeyCommandTimeout = "command-timeout"
	KeyAuthTimeout    = "auth-timeout"
	KeyTmuxBin        = "tmux-bin"
	KeyTmuxSocket     = "tmux-socket"
	KeyStatusScript   = "status-script"
	KeyApprovalScript = "approval-script"
	KeyStaticDir      = "static-dir"
	KeyAuthStatic     = "auth-static"
	KeyAllowedOrigins = "allowed-origins"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
)

// EnvPrefix is prepended to every key to form its environment variable,
// e.g. DASHBOARD_POLL_INTERVAL.
const EnvPrefix = "DASHBOARD"

// tokenConfigKey is where the token lives inside the token-config file.
const tokenConfigKey = "hooks.token"

// ErrMissingToken is returned when no shared secret could be found.
var ErrMissingToken = errors.New("no dashboard token configured; refusing to start without authentication")

// Config holds every dashboard setting.
type Config struct {
	Port           int
	Token          string
	TokenConfig    string
	PollInterval   time.Duration
	CommandTimeout time.Duration
	AuthTimeout    time.Duration
	TmuxBin        string
	TmuxSocket     string
	StatusScript   string
	ApprovalScript string
	StaticDir      string
	AuthStatic     bool
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// BindFlags registers one flag per key with its default.
func BindFlags(flags *pflag.FlagSet) {
	flags.Int(KeyPort, 3333, "HTTP listen port")
	flags.String(KeyToken, "", "shared secret viewers must present")
	flags.String(KeyTokenConfig, defaultTokenConfig(), "JSON file to read hooks.token from when no token is set")
	flags.Duration(KeyPollInterval, 500*time.Millisecond, "time between tmux polls")
	flags.Duration(KeyCommandTimeout, 5*time.Second, "timeout for each tmux or script invocation")
	flags.Duration(KeyAuthTimeout, 10*time.Second, "how long a new connection may take to send its auth frame")
	flags.String(KeyTmuxBin, "tmux", "tmux binary")
	flags.String(KeyTmuxSocket, "", "tmux server socket (-S); empty uses the default server")
	flags.String(KeyStatusScript, "", "status script invoked as <script> <session> --json; empty infers status from the pane")
	flags.String(KeyApprovalScript, "", "approval script invoked as <script> <action> <session>")
	flags.String(KeyStaticDir, "", "directory of UI assets served under /")
	flags.Bool(KeyAuthStatic, true, "require the token header for static assets")
	flags.StringSlice(KeyAllowedOrigins, nil, "allowed WebSocket origins; empty allows any")
	flags.String(KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(KeyLogFormat, "json", "log format: json or console")
}

func defaultTokenConfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openclaw", "openclaw.json")
}

// Load resolves the configuration. flags must have been set up with
// BindFlags; configFile may be empty.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:           v.GetInt(KeyPort),
		Token:          strings.TrimSpace(v.GetString(KeyToken)),
		TokenConfig:    v.GetString(KeyTokenConfig),
		PollInterval:   v.GetDuration(KeyPollInterval),
		CommandTimeout: v.GetDuration(KeyCommandTimeout),
		AuthTimeout:    v.GetDuration(KeyAuthTimeout),
		TmuxBin:        v.GetString(KeyTmuxBin),
		TmuxSocket:     v.GetString(KeyTmuxSocket),
		StatusScript:   v.GetString(KeyStatusScript),
		ApprovalScript: v.GetString(KeyApprovalScript),
		StaticDir:      v.GetString(KeyStaticDir),
		AuthStatic:     v.GetBool(KeyAuthStatic),
		AllowedOrigins: splitList(v.GetStringSlice(KeyAllowedOrigins)),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
	}

	if cfg.Token == "" && cfg.TokenConfig != "" {
		token, err := ReadTokenConfig(cfg.TokenConfig)
		if err != nil {
			return nil, err
		}
		cfg.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma-separated entries, which is how a list arrives
// from an environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ReadTokenConfig reads hooks.token from a JSON file. A missing file yields
// an empty token and no error.
func ReadTokenConfig(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read token config %s: %w", path, err)
	}
	return strings.TrimSpace(v.GetString(tokenConfigKey)), nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid %s %d", KeyPort, c.Port)
	}
	for key, d := range map[string]time.Duration{
		KeyPollInterval:   c.PollInterval,
		KeyCommandTimeout: c.CommandTimeout,
		KeyAuthTimeout:    c.AuthTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.TmuxBin == "" {
		return fmt.Errorf("%s must not be empty", KeyTmuxBin)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid %s %q", KeyLogFormat, c.LogFormat)
	}
	if c.StaticDir != "" {
		info, err := os.Stat(c.StaticDir)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyStaticDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s %s is not a directory", KeyStaticDir, c.StaticDir)
		}
	}
	return nil
}
