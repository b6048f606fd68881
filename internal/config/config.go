package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	// SignalRate is the sustained inbound frames per second per identity.
	SignalRate  float64 `mapstructure:"signal_rate"`
	SignalBurst int     `mapstructure:"signal_burst"`

	// KickSlow closes connections whose send queue is full instead of
	// dropping the frame.
	KickSlow bool `mapstructure:"kick_slow"`
}

// Agent configures the headless call endpoint.
type Agent struct {
	Server        string        `mapstructure:"server"`
	Identity      string        `mapstructure:"identity"`
	Call          string        `mapstructure:"call"`
	Kind          string        `mapstructure:"kind"`
	AutoAccept    bool          `mapstructure:"auto_accept"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	ICEServers    []string      `mapstructure:"ice_servers"`
}

func env() string {
	if e := os.Getenv("CONFIG_ENV"); e != "" {
		return e
	}
	return "dev"
}

func newViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fmt.Sprintf("config/%s.%s.yaml", name, env()))
	v.SetEnvPrefix("CHATCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config loaded")
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("signal_rate", 20)
	v.SetDefault("signal_burst", 40)
	v.SetDefault("kick_slow", true)
}

func Load() (*Config, error) {
	v := newViper("config")
	setServerDefaults(v)
	read(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("server config")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period %s must be shorter than pong_wait %s", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	return nil
}

// AgentFlags declares the command line of the call agent.
func AgentFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:8080", "signaling server base URL")
	fs.String("identity", "", "identity to log in as")
	fs.String("call", "", "identity to call right after connecting")
	fs.String("kind", "audio", "call kind: audio or video")
	fs.Bool("auto-accept", true, "accept incoming calls")
	fs.Duration("answer-timeout", 30*time.Second, "how long an outgoing call rings")
	fs.Duration("write-wait", 5*time.Second, "websocket write deadline")
	fs.Duration("ping-period", 25*time.Second, "interval between keepalive pings to the server")
	fs.Duration("pong-wait", 60*time.Second, "how long the server may stay silent before the link is dropped")
	fs.StringSlice("ice-servers", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN URLs")
}

// LoadAgent reads config/agent.<env>.yaml and lets flags in fs override it.
func LoadAgent(fs *pflag.FlagSet) (*Agent, error) {
	v := newViper("agent")
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	read(v)

	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("agent identity is required")
	}
	if cfg.PingPeriod >= cfg.PongWait {
		return nil, fmt.Errorf("ping_period %s must be shorter than pong_wait %s", cfg.PingPeriod, cfg.PongWait)
	}
	return &cfg, nil
}
