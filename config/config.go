package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/chaos-io/nobg/rembg"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Rembg    RembgConfig   `mapstructure:"rembg"`
	Settings rembg.Options `mapstructure:"settings"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Watch    WatchConfig   `mapstructure:"watch"`
	Output   OutputConfig  `mapstructure:"output"`

	// Source 实际读取的配置文件，只用默认值和环境变量时为空
	Source string `mapstructure:"-"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type RembgConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Model   string        `mapstructure:"model"`
	Warmup  bool          `mapstructure:"warmup"`
}

// RedisConfig Addr 为空时不启用缓存
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// WatchConfig 定时处理一个目录
type WatchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
	Source  string `mapstructure:"source"`
	Dest    string `mapstructure:"dest"`
}

type OutputConfig struct {
	// MassCropDir 批量裁剪输出目录名，放在源目录下
	MassCropDir string `mapstructure:"mass_crop_dir"`
}

// Load 从 YAML 文件加载配置，环境变量 NOBG_<SECTION>_<KEY> 优先于文件
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Source = configPath
	return cfg, nil
}

// New 文件不存在时使用默认值加环境变量；其他错误原样返回
func New(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return decode(newViper())
	}
	return Load(configPath)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("NOBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !rembg.IsKnownModel(c.Rembg.Model) {
		return fmt.Errorf("%w: %q", rembg.ErrUnknownModel, c.Rembg.Model)
	}
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if c.Watch.Enabled && (c.Watch.Spec == "" || c.Watch.Source == "" || c.Watch.Dest == "") {
		return fmt.Errorf("watch enabled but spec/source/dest missing")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("rembg.base_url", d.Rembg.BaseURL)
	v.SetDefault("rembg.timeout", d.Rembg.Timeout)
	v.SetDefault("rembg.model", d.Rembg.Model)
	v.SetDefault("rembg.warmup", d.Rembg.Warmup)

	v.SetDefault("settings.alpha_matting", d.Settings.AlphaMatting)
	v.SetDefault("settings.foreground_threshold", d.Settings.ForegroundThreshold)
	v.SetDefault("settings.background_threshold", d.Settings.BackgroundThreshold)
	v.SetDefault("settings.erode_size", d.Settings.ErodeSize)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.spec", d.Watch.Spec)
	v.SetDefault("watch.source", d.Watch.Source)
	v.SetDefault("watch.dest", d.Watch.Dest)

	v.SetDefault("output.mass_crop_dir", d.Output.MassCropDir)
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "127.0.0.1:8080",
			Mode: "debug",
		},
		Rembg: RembgConfig{
			BaseURL: "http://127.0.0.1:7000",
			Timeout: 2 * time.Minute,
			Model:   rembg.DefaultModel,
			Warmup:  true,
		},
		Settings: rembg.DefaultOptions(),
		Redis: RedisConfig{
			TTL:    24 * time.Hour,
			Prefix: "nobg:",
		},
		Watch: WatchConfig{
			Spec: "@every 5m",
		},
		Output: OutputConfig{
			MassCropDir: "crop_output",
		},
	}
}
