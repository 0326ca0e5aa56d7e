package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"github.com/trim21/errgo"
)

type Application struct {
	DownloadDir     string   `toml:"download_dir"`
	HTTPTimeout     Duration `toml:"http_timeout"`
	DownloadLimit   Size     `toml:"download_limit"`
	CheckRate       Size     `toml:"check_rate"`
	MaxHTTPParallel int      `toml:"max_http_parallel"`
	Fallocate       bool     `toml:"fallocate"`
}

type WebSeed struct {
	IdleInterval Duration `toml:"idle_interval"`
}

type Web struct {
	Address string `toml:"address"`
	// Secret is compared with Authorization header of api requests.
	Secret string `toml:"secret"`
	Debug  bool   `toml:"debug"`
}

type Config struct {
	App     Application `toml:"application"`
	WebSeed WebSeed     `toml:"webseed"`
	Web     Web         `toml:"web"`
}

func Default() Config {
	return Config{
		App:     Application{MaxHTTPParallel: 100},
		WebSeed: WebSeed{IdleInterval: Duration(time.Second * 2)},
		Web:     Web{Address: "127.0.0.1:8003"},
	}
}

// LoadFromFile reads config file at path, a missing file means default config.
// Environment variables like HERMOD_APPLICATION_DOWNLOAD_DIR override file content.
func LoadFromFile(path string) (Config, error) {
	var cfg = Default()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !os.IsNotExist(err) {
			return cfg, errgo.Wrap(err, "failed to parse config file")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if cfg.App.DownloadDir == "" {
		hd, err := os.UserHomeDir()
		if err != nil {
			return cfg, errgo.Wrap(err, "failed to get user homedir")
		}

		cfg.App.DownloadDir = filepath.Join(hd, "downloads")
	}

	if cfg.App.MaxHTTPParallel <= 0 {
		cfg.App.MaxHTTPParallel = 100
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix("hermod")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"application.download_dir",
		"application.max_http_parallel",
		"application.http_timeout",
		"application.download_limit",
		"application.check_rate",
		"application.fallocate",
		"webseed.idle_interval",
		"web.address",
		"web.secret",
		"web.debug",
	} {
		if !v.IsSet(key) {
			continue
		}

		var err error
		switch key {
		case "application.download_dir":
			cfg.App.DownloadDir = v.GetString(key)
		case "application.max_http_parallel":
			cfg.App.MaxHTTPParallel = v.GetInt(key)
		case "application.http_timeout":
			err = cfg.App.HTTPTimeout.UnmarshalText([]byte(v.GetString(key)))
		case "application.download_limit":
			err = cfg.App.DownloadLimit.UnmarshalText([]byte(v.GetString(key)))
		case "application.check_rate":
			err = cfg.App.CheckRate.UnmarshalText([]byte(v.GetString(key)))
		case "application.fallocate":
			cfg.App.Fallocate = v.GetBool(key)
		case "webseed.idle_interval":
			err = cfg.WebSeed.IdleInterval.UnmarshalText([]byte(v.GetString(key)))
		case "web.address":
			cfg.Web.Address = v.GetString(key)
		case "web.secret":
			cfg.Web.Secret = v.GetString(key)
		case "web.debug":
			cfg.Web.Debug = v.GetBool(key)
		}

		if err != nil {
			return errgo.Wrap(err, "invalid environment variable for "+key)
		}
	}

	return nil
}

// Size is a byte size written as human string like "10MiB", empty or 0 means unlimited.
type Size int64

func (s *Size) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}

	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return err
	}

	*s = Size(v)
	return nil
}

type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}

	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
