package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/BioHazard786/callrelay/internal/logging"
	"github.com/BioHazard786/callrelay/internal/origin"
)

// EnvPrefix is prepended to every environment variable, e.g. CALLRELAY_LISTEN_ADDR.
const EnvPrefix = "CALLRELAY"

// Configuration keys. Flags use the same names with '-' instead of '_'.
const (
	KeyListenAddr         = "listen_addr"
	KeyLogLevel           = "log_level"
	KeyLogFormat          = "log_format"
	KeyAllowedOrigins     = "allowed_origins"
	KeyMaxMessageBytes    = "max_message_bytes"
	KeySendBuffer         = "send_buffer"
	KeyMessagesPerSecond  = "messages_per_second"
	KeyMessageBurst       = "message_burst"
	KeyPendingCallTimeout = "pending_call_timeout"
	KeyShutdownTimeout    = "shutdown_timeout"
	KeySTUNServer         = "stun_server"
	KeyTURNServer         = "turn_server"
	KeyTURNUser           = "turn_user"
	KeyTURNPass           = "turn_pass"
)

// Default configuration values
const (
	DefaultListenAddr         = ":8080"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultMaxMessageBytes    = 64 * 1024 // enough for WebRTC SDP messages
	DefaultSendBuffer         = 256
	DefaultMessagesPerSecond  = 50
	DefaultMessageBurst       = 100
	DefaultPendingCallTimeout = 30 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultSTUN               = "stun:stun.l.google.com:19302"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string `mapstructure:"log_format" yaml:"log_format"`

	// AllowedOrigins restricts browser Origin headers on /ws. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	MaxMessageBytes   int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer        int     `mapstructure:"send_buffer" yaml:"send_buffer"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"` // 0 disables rate limiting
	MessageBurst      int     `mapstructure:"message_burst" yaml:"message_burst"`

	// PendingCallTimeout bounds how long a random-match callee may leave an
	// incoming call unanswered. 0 disables expiry.
	PendingCallTimeout time.Duration `mapstructure:"pending_call_timeout" yaml:"pending_call_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// ICE servers handed to browsers
	STUNServer string `mapstructure:"stun_server" yaml:"stun_server"`
	TURNServer string `mapstructure:"turn_server" yaml:"turn_server"`
	TURNUser   string `mapstructure:"turn_user" yaml:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass" yaml:"turn_pass"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyMaxMessageBytes, DefaultMaxMessageBytes)
	v.SetDefault(KeySendBuffer, DefaultSendBuffer)
	v.SetDefault(KeyMessagesPerSecond, DefaultMessagesPerSecond)
	v.SetDefault(KeyMessageBurst, DefaultMessageBurst)
	v.SetDefault(KeyPendingCallTimeout, DefaultPendingCallTimeout)
	v.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)
	v.SetDefault(KeySTUNServer, DefaultSTUN)
	v.SetDefault(KeyTURNServer, "")
	v.SetDefault(KeyTURNUser, "")
	v.SetDefault(KeyTURNPass, "")
}

// Keys returns every configuration key, in declaration order.
func Keys() []string {
	return []string{
		KeyListenAddr, KeyLogLevel, KeyLogFormat, KeyAllowedOrigins,
		KeyMaxMessageBytes, KeySendBuffer, KeyMessagesPerSecond, KeyMessageBurst,
		KeyPendingCallTimeout, KeyShutdownTimeout,
		KeySTUNServer, KeyTURNServer, KeyTURNUser, KeyTURNPass,
	}
}

// FlagName maps a configuration key to its command-line flag name.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load reads configuration with the following priority:
// 1. Flags that were explicitly set (highest)
// 2. Environment variables (CALLRELAY_*)
// 3. The YAML config file, if configFile is non-empty
// 4. Defaults (lowest)
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		for _, key := range Keys() {
			if f := flags.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := logging.Validate(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat))
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	if c.MessagesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("messages_per_second must not be negative, got %v", c.MessagesPerSecond))
	}
	if c.MessagesPerSecond > 0 && c.MessageBurst <= 0 {
		errs = append(errs, fmt.Errorf("message_burst must be positive when rate limiting, got %d", c.MessageBurst))
	}
	if c.PendingCallTimeout < 0 {
		errs = append(errs, fmt.Errorf("pending_call_timeout must not be negative, got %s", c.PendingCallTimeout))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout))
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			continue
		}
		if _, _, ok := origin.NormalizeHeader(o); !ok {
			errs = append(errs, fmt.Errorf("allowed_origins: invalid origin %q", o))
		}
	}
	return errors.Join(errs...)
}

// ICEServers returns the STUN/TURN servers browsers should use for
// their peer connections.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if c.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.STUNServer}})
	}
	if turn := c.TURNServers(); turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:           turn,
			Username:       c.TURNUser,
			Credential:     c.TURNPass,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// TURNServers expands the configured TURN host into UDP, TCP and TLS URLs.
// A value already carrying a scheme is used as-is.
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.HasPrefix(c.TURNServer, "turn:") || strings.HasPrefix(c.TURNServer, "turns:") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}
