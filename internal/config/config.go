package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default configuration values (production).
const (
	DefaultDomain = "meet.nicorp.tech"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultListen = ":8080"
)

// Config holds the runtime configuration shared by the server and the CLI.
type Config struct {
	// Domain is the backend server domain the CLI connects to.
	Domain string

	// WebSocketURL is constructed from domain.
	WebSocketURL string

	// ListenAddr is the address the signaling server binds to.
	ListenAddr string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN-relayed candidates.
	ForceRelay bool
}

// Options carries CLI flag overrides, which take the highest priority.
type Options struct {
	Domain     string
	Insecure   bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	ListenAddr string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_password", "")
	v.SetDefault("listen_addr", DefaultListen)
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (DOMAIN, STUN_SERVER, TURN_SERVER, ...)
// 3. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if opts.Domain != "" {
		v.Set("domain", opts.Domain)
	}
	if opts.STUNServer != "" {
		v.Set("stun_server", opts.STUNServer)
	}
	if opts.TURNServer != "" {
		v.Set("turn_server", opts.TURNServer)
	}
	if opts.TURNUser != "" {
		v.Set("turn_username", opts.TURNUser)
	}
	if opts.TURNPass != "" {
		v.Set("turn_password", opts.TURNPass)
	}
	if opts.ListenAddr != "" {
		v.Set("listen_addr", opts.ListenAddr)
	}

	scheme := "wss"
	if opts.Insecure {
		scheme = "ws"
	}

	cfg := &Config{
		Domain:       v.GetString("domain"),
		WebSocketURL: fmt.Sprintf("%s://%s/ws", scheme, v.GetString("domain")),
		ListenAddr:   v.GetString("listen_addr"),
		STUNServer:   v.GetString("stun_server"),
		TURNServer:   v.GetString("turn_server"),
		TURNUser:     v.GetString("turn_username"),
		TURNPass:     v.GetString("turn_password"),
		ForceRelay:   opts.ForceRelay,
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns the TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
