package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds client and reference-backend configuration.
type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`

	Audio     AudioConfig     `mapstructure:"audio"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

// AudioConfig configures microphone capture.
type AudioConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path"`
	InputFormat      string        `mapstructure:"input_format"`
	InputDevice      string        `mapstructure:"input_device"`
	SampleRate       int           `mapstructure:"sample_rate"`
	ChunkInterval    time.Duration `mapstructure:"chunk_interval"`
	Container        string        `mapstructure:"container"`
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
}

// PlaybackConfig names the external player used for synthesized audio.
type PlaybackConfig struct {
	Command string `mapstructure:"command"`
}

// DevServerConfig configures the reference backend.
type DevServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	DataDir        string `mapstructure:"data_dir"`
	HistoryDB      string `mapstructure:"history_db"`
	SupabaseURL    string `mapstructure:"supabase_url"`
	SupabaseKey    string `mapstructure:"supabase_key"`
	SupabaseBucket string `mapstructure:"supabase_bucket"`
}

// EnvPrefix prefixes every environment override, e.g. VOICECHAT_SERVER_URL.
const EnvPrefix = "VOICECHAT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8000")
	v.SetDefault("reconnect_delay", 2*time.Second)
	v.SetDefault("max_reconnects", 5)
	v.SetDefault("health_interval", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.chunk_interval", time.Second)
	v.SetDefault("audio.container", "wav")
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)

	v.SetDefault("playback.command", "ffplay -nodisp -autoexit -loglevel quiet")

	v.SetDefault("devserver.http_address", ":8000")
	v.SetDefault("devserver.data_dir", "data")
	v.SetDefault("devserver.history_db", "")
	v.SetDefault("devserver.supabase_url", "")
	v.SetDefault("devserver.supabase_key", "")
	v.SetDefault("devserver.supabase_bucket", "voice-session")
}

// Load reads .env, an optional voicechat.yaml and VOICECHAT_* environment
// variables, in increasing order of precedence over the defaults.
func Load(configFile string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voicechat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: invalid server_url %q", c.ServerURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("config: unsupported server_url scheme %q", u.Scheme)
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("config: max_reconnects must be >= 0, got %d", c.MaxReconnects)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("config: reconnect_delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.ChunkInterval <= 0 {
		return fmt.Errorf("config: audio.chunk_interval must be positive, got %s", c.Audio.ChunkInterval)
	}
	return nil
}
