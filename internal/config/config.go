package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"watchrelay/internal/domain"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "WATCHRELAY_"

// Config stores runtime configuration for the relay and the listener.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Audio    AudioConfig    `yaml:"audio"`
	Status   StatusConfig   `yaml:"status"`
	Listener ListenerConfig `yaml:"listener"`
	Log      LogConfig      `yaml:"log"`
}

type RelayConfig struct {
	Address       string        `yaml:"address" env:"ADDRESS,overwrite,default=10.0.0.19:5001"`
	Handshake     string        `yaml:"handshake" env:"HANDSHAKE,overwrite,default=WATCH_CONNECTED"`
	Backoff       time.Duration `yaml:"backoff" env:"BACKOFF,overwrite,default=1s"`
	DialTimeout   time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT,overwrite,default=5s"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT,overwrite,default=5s"`
	QueueCapacity int           `yaml:"queue_capacity" env:"QUEUE_CAPACITY,overwrite,default=64"`
	Policy        string        `yaml:"policy" env:"POLICY,overwrite,default=drop"`
	MQTTClientID  string        `yaml:"mqtt_client_id" env:"MQTT_CLIENT_ID,overwrite"`
}

type AudioConfig struct {
	RecorderCommand string        `yaml:"ffmpeg_command" env:"FFMPEG_COMMAND,overwrite,default=ffmpeg"`
	InputFormat     string        `yaml:"input_format" env:"AUDIO_INPUT_FORMAT,overwrite,default=pulse"`
	InputDevice     string        `yaml:"input_device" env:"AUDIO_INPUT_DEVICE,overwrite,default=default"`
	SampleRate      int           `yaml:"sample_rate" env:"SAMPLE_RATE,overwrite,default=16000"`
	Channels        int           `yaml:"channels" env:"CHANNELS,overwrite,default=1"`
	ChunkSize       int           `yaml:"chunk_size" env:"AUDIO_CHUNK_SIZE,overwrite,default=4096"`
	StartupWindow   time.Duration `yaml:"startup_window" env:"AUDIO_STARTUP_WINDOW,overwrite,default=250ms"`
	StopGrace       time.Duration `yaml:"stop_grace" env:"AUDIO_STOP_GRACE,overwrite,default=1200ms"`
}

type StatusConfig struct {
	Addr string `yaml:"addr" env:"STATUS_ADDR,overwrite"`
}

type ListenerConfig struct {
	Addr      string `yaml:"addr" env:"LISTEN_ADDR,overwrite,default=:5001"`
	WSAddr    string `yaml:"ws_addr" env:"LISTEN_WS_ADDR,overwrite"`
	RecordDir string `yaml:"record_dir" env:"RECORD_DIR,overwrite"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL,overwrite,default=info"`
	Format string `yaml:"format" env:"LOG_FORMAT,overwrite,default=text"`
}

// Load resolves configuration from an optional YAML file, then environment
// variables, then defaults. An empty path skips the file.
func Load(ctx context.Context, path string) (Config, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if path = strings.TrimSpace(path); path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &cfg, envconfig.PrefixLookuper(EnvPrefix, lookuper)); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	trimStrings(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func trimStrings(cfg *Config) {
	for _, s := range []*string{
		&cfg.Relay.Address,
		&cfg.Relay.Handshake,
		&cfg.Relay.Policy,
		&cfg.Relay.MQTTClientID,
		&cfg.Audio.RecorderCommand,
		&cfg.Audio.InputFormat,
		&cfg.Audio.InputDevice,
		&cfg.Status.Addr,
		&cfg.Listener.Addr,
		&cfg.Listener.WSAddr,
		&cfg.Listener.RecordDir,
		&cfg.Log.Level,
		&cfg.Log.Format,
	} {
		*s = strings.TrimSpace(*s)
	}
}

func sanitize(cfg *Config) {
	if cfg.Relay.Handshake == "" {
		cfg.Relay.Handshake = domain.HandshakeSentinel
	}
	if cfg.Relay.Backoff <= 0 {
		cfg.Relay.Backoff = time.Second
	}
	if cfg.Relay.DialTimeout <= 0 {
		cfg.Relay.DialTimeout = 5 * time.Second
	}
	if cfg.Relay.WriteTimeout <= 0 {
		cfg.Relay.WriteTimeout = 5 * time.Second
	}
	if cfg.Relay.QueueCapacity <= 0 {
		cfg.Relay.QueueCapacity = 64
	}
	cfg.Relay.Policy = strings.ToLower(cfg.Relay.Policy)
	if _, ok := domain.ParseAdmissionPolicy(cfg.Relay.Policy); !ok {
		cfg.Relay.Policy = string(domain.PolicyDrop)
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Audio.StartupWindow <= 0 {
		cfg.Audio.StartupWindow = 250 * time.Millisecond
	}
	if cfg.Audio.StopGrace <= 0 {
		cfg.Audio.StopGrace = 1200 * time.Millisecond
	}
}

// AdmissionPolicy returns the parsed relay policy.
func (c RelayConfig) AdmissionPolicy() domain.AdmissionPolicy {
	policy, _ := domain.ParseAdmissionPolicy(c.Policy)
	return policy
}
