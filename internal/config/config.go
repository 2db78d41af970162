// Package config loads daemon settings from torchat.yaml, TORCHAT_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/identity"
	"github.com/Operative-001/torchat/internal/protocol"
	"github.com/Operative-001/torchat/internal/seen"
)

const (
	EnvPrefix = "TORCHAT"
	FileName  = "torchat"

	identityFile = "identity.json"
)

// Config is the resolved daemon configuration.
type Config struct {
	ID           string
	HostnameFile string
	Listen       string

	TorProxy    string
	ServicePort int

	ConnectTimeout time.Duration
	RejectCooldown time.Duration

	ClientName    string
	ClientVersion string

	ProfileName   string
	ProfileText   string
	ProfileStatus protocol.Status

	AcceptUnknown bool
	Autoconnect   bool

	DataDir       string
	LogLevel      string
	LogFormat     string
	MetricsListen string
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".torchat"
	}
	return filepath.Join(home, ".torchat")
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.id", "")
	v.SetDefault("service.hostname_file", "")
	v.SetDefault("service.listen", "127.0.0.1:11009")

	v.SetDefault("tor.proxy", "127.0.0.1:9050")
	v.SetDefault("tor.service_port", 11009)

	v.SetDefault("engine.connect_timeout", engine.DefaultConnectTimeout)
	v.SetDefault("engine.reject_cooldown", seen.DefaultExpiry)

	v.SetDefault("client.name", engine.DefaultClientName)
	v.SetDefault("client.version", engine.DefaultClientVersion)

	v.SetDefault("profile.name", "")
	v.SetDefault("profile.text", "")
	v.SetDefault("profile.status", protocol.StatusAvailable.String())

	v.SetDefault("buddies.accept_unknown", false)
	v.SetDefault("buddies.autoconnect", true)

	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.listen", "")
}

// New returns a viper instance with defaults and environment binding in
// place. file, when non-empty, is read as the config file; otherwise
// torchat.yaml is looked up in the working directory and the default data
// directory, and its absence is not an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(DefaultDataDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load resolves v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	status, err := protocol.StatusFromName(strings.TrimSpace(v.GetString("profile.status")))
	if err != nil {
		return nil, fmt.Errorf("profile.status: %w", err)
	}

	c := &Config{
		ID:             strings.TrimSpace(v.GetString("service.id")),
		HostnameFile:   strings.TrimSpace(v.GetString("service.hostname_file")),
		Listen:         v.GetString("service.listen"),
		TorProxy:       v.GetString("tor.proxy"),
		ServicePort:    v.GetInt("tor.service_port"),
		ConnectTimeout: v.GetDuration("engine.connect_timeout"),
		RejectCooldown: v.GetDuration("engine.reject_cooldown"),
		ClientName:     v.GetString("client.name"),
		ClientVersion:  v.GetString("client.version"),
		ProfileName:    v.GetString("profile.name"),
		ProfileText:    v.GetString("profile.text"),
		ProfileStatus:  status,
		AcceptUnknown:  v.GetBool("buddies.accept_unknown"),
		Autoconnect:    v.GetBool("buddies.autoconnect"),
		DataDir:        v.GetString("data_dir"),
		LogLevel:       v.GetString("logging.level"),
		LogFormat:      v.GetString("logging.format"),
		MetricsListen:  strings.TrimSpace(v.GetString("metrics.listen")),
	}

	if c.ID != "" && !identity.ValidID(c.ID) {
		return nil, fmt.Errorf("service.id: %w: %q", identity.ErrInvalidID, c.ID)
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return nil, fmt.Errorf("tor.service_port: out of range: %d", c.ServicePort)
	}
	if c.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("engine.connect_timeout: must be positive, got %s", c.ConnectTimeout)
	}
	if c.RejectCooldown < 0 {
		return nil, fmt.Errorf("engine.reject_cooldown: negative: %s", c.RejectCooldown)
	}
	if strings.ContainsAny(c.ProfileName+c.ProfileText, "\r\n") {
		return nil, errors.New("profile: name and text must be single lines")
	}
	if c.DataDir == "" {
		return nil, errors.New("data_dir: empty")
	}
	return c, nil
}

// IdentityPath is where the persisted identity lives.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.DataDir, identityFile)
}

// ResolveID picks the local id: service.id first, then the Tor hostname
// file, then the identity saved in the data directory.
func (c *Config) ResolveID() (string, error) {
	switch {
	case c.ID != "":
		return c.ID, nil
	case c.HostnameFile != "":
		return identity.FromHostname(c.HostnameFile)
	}
	id, err := identity.Load(c.IdentityPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("no id configured: set service.id, service.hostname_file or run 'torchat id --set'")
		}
		return "", err
	}
	return id.ID, nil
}

// Info is the profile advertised to buddies.
func (c *Config) Info() engine.Info {
	return engine.Info{
		ProfileName: c.ProfileName,
		ProfileText: c.ProfileText,
		Status:      c.ProfileStatus,
	}
}
