package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	APP_NAME   = ".vsfy"
	ENV_PREFIX = "VSFY"
)

// Config is the complete client configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (VSFY_*), including those loaded from .env
//  2. Configuration file (YAML or TOML)
//  3. Defaults
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Player    PlayerConfig    `mapstructure:"player"`
	History   HistoryConfig   `mapstructure:"history"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ClientConfig struct {
	// Name identifies this instance to the directory. Not checked for collisions.
	Name string `mapstructure:"name" validate:"required"`
}

type DirectoryConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" validate:"gt=0"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
}

func (d DirectoryConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

type TransferConfig struct {
	// Port 0 binds an ephemeral port that is announced with UPDATE_PORT.
	Port           int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout" validate:"gt=0"`
	SettleWindow   time.Duration `mapstructure:"settle_window" validate:"gt=0"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	// UploadRate caps bytes per second written to each peer. 0 is unlimited.
	UploadRate int `mapstructure:"upload_rate" validate:"gte=0"`
}

type CatalogConfig struct {
	MusicDir     string `mapstructure:"music_dir" validate:"required"`
	DownloadsDir string `mapstructure:"downloads_dir" validate:"required"`
}

type PlayerConfig struct {
	Mode    string `mapstructure:"mode" validate:"oneof=file command discard"`
	Command string `mapstructure:"command" validate:"required_if=Mode command"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path" validate:"required_if=Enabled true"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"name":           "client.name",
	"directory-host": "directory.host",
	"directory-port": "directory.port",
	"transfer-port":  "transfer.port",
	"music-dir":      "catalog.music_dir",
	"downloads-dir":  "catalog.downloads_dir",
	"player":         "player.mode",
	"api-listen":     "api.listen",
	"log-level":      "logging.level",
}

// Flags returns the command line flags that override configuration values,
// plus --config for the config file path.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("vsfy", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML or TOML config file")
	fs.String("name", "", "client name registered with the directory")
	fs.String("directory-host", "", "directory host")
	fs.Int("directory-port", 0, "directory port")
	fs.Int("transfer-port", 0, "transfer server port (0 picks a free port)")
	fs.String("music-dir", "", "folder whose files are shared")
	fs.String("downloads-dir", "", "folder fetched items are saved to")
	fs.String("player", "", "what to do with fetched items: file, command or discard")
	fs.String("api-listen", "", "HTTP API listen address")
	fs.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
	return fs
}

// Load reads .env (if present next to the working directory), the optional
// config file at path, and VSFY_* environment overrides, then validates.
// A missing config file or .env is not an error.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command line flags from Flags layered on top of
// every other source. Only flags that were set take effect.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.name", defaultName())
	v.SetDefault("directory.host", "localhost")
	v.SetDefault("directory.port", 45000)
	v.SetDefault("directory.response_timeout", 5*time.Second)
	v.SetDefault("directory.dial_timeout", 5*time.Second)
	v.SetDefault("transfer.port", 0)
	v.SetDefault("transfer.request_timeout", 30*time.Second)
	v.SetDefault("transfer.ack_timeout", 5*time.Second)
	v.SetDefault("transfer.settle_window", 250*time.Millisecond)
	v.SetDefault("transfer.dial_timeout", 5*time.Second)
	v.SetDefault("transfer.upload_rate", 0)
	v.SetDefault("catalog.music_dir", ".")
	v.SetDefault("catalog.downloads_dir", filepath.Join(appDir(), "downloads"))
	v.SetDefault("player.mode", "file")
	v.SetDefault("player.command", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", filepath.Join(appDir(), "history.db"))
	v.SetDefault("api.listen", "localhost:3000")
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks struct constraints and the protocol-level rule that the
// client name is a single token.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.ContainsAny(cfg.Client.Name, " \t\r\n") {
		return fmt.Errorf("invalid config: client name %q must not contain whitespace", cfg.Client.Name)
	}
	return nil
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "vsfy"
	}
	return strings.ReplaceAll(host, " ", "-")
}

func appDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, APP_NAME)
}
