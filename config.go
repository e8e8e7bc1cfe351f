package msgsocket

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Zereker/msgsocket/layer"
	"github.com/pkg/errors"
)

// Config is the file form of the client, peer and server settings.
// Durations are written as strings such as "5s" or "250ms".
type Config struct {
	ListenAddress      string        `toml:"listen_address"`
	Destination        string        `toml:"destination"`
	MaxFrameSize       int           `toml:"max_frame_size"`
	DialTimeout        time.Duration `toml:"dial_timeout"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`
	IdleTimeout        time.Duration `toml:"idle_timeout"`
	BufferSize         int           `toml:"buffer_size"`
	BreakerMaxFailures uint32        `toml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `toml:"breaker_timeout"`
}

// DefaultConfig returns the values used when no option overrides them.
func DefaultConfig() Config {
	return Config{
		ListenAddress:      "127.0.0.1:5678",
		MaxFrameSize:       layer.DefaultMaxFrameSize,
		DialTimeout:        defaultDialTimeout,
		ShutdownTimeout:    defaultShutdownTimeout,
		BufferSize:         defaultBufferSize,
		BreakerMaxFailures: defaultBreakerFailures,
		BreakerTimeout:     defaultBreakerTimeout,
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Keys the file leaves out
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	return validate(cfg, meta)
}

// ParseConfig is LoadConfig for TOML held in memory.
func ParseConfig(data string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return validate(cfg, meta)
}

func validate(cfg Config, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("max_frame_size") {
		if err := checkMaxFrameSize(cfg.MaxFrameSize); err != nil {
			return Config{}, err
		}
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	cfg.Destination = strings.TrimSpace(cfg.Destination)

	return cfg, nil
}

// Options returns the client options described by cfg.
func (cfg Config) Options() []Option {
	return []Option{
		MaxFrameSizeOption(cfg.MaxFrameSize),
		DialTimeoutOption(cfg.DialTimeout),
		WriteTimeoutOption(cfg.WriteTimeout),
		ShutdownTimeoutOption(cfg.ShutdownTimeout),
		BreakerOption(*defaultBreakerSettings(cfg.BreakerMaxFailures, cfg.BreakerTimeout)),
	}
}

// PeerOptions returns the peer options described by cfg.
func (cfg Config) PeerOptions() []PeerOption {
	return []PeerOption{
		PeerMaxFrameSizeOption(cfg.MaxFrameSize),
		PeerBufferSizeOption(cfg.BufferSize),
		PeerIdleTimeoutOption(cfg.IdleTimeout),
	}
}

// ServerOptions returns the server options described by cfg.
func (cfg Config) ServerOptions() []ServerOption {
	return []ServerOption{
		ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
	}
}
