package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"evtrack/pkg/rulespec"
)

// EnvPrefix 环境变量前缀，层级之间使用双下划线，如 EVTRACK_SQLITE__DSN
const EnvPrefix = "EVTRACK_"

// Config 配置文件结构体
type Config struct {
	Version string `koanf:"version"`

	Sqlite struct {
		Dsn    string `koanf:"dsn"`
		Prefix string `koanf:"prefix"`
	} `koanf:"sqlite"`

	Log struct {
		Level  string   `koanf:"level"`
		Writer []string `koanf:"writer"`
		File   string   `koanf:"file"`
	} `koanf:"log"`

	Recorder RecorderConfig `koanf:"recorder"`

	Rules struct {
		// Custom 元素为字符串（前缀规则）或 {type, value, description}
		Custom []any `koanf:"custom"`
	} `koanf:"rules"`

	Analytics AnalyticsConfig `koanf:"analytics"`

	CDP struct {
		// DevToolsURL 为空时 serve 不启动浏览器采集
		DevToolsURL string `koanf:"devtools_url"`
		Target      string `koanf:"target"`
	} `koanf:"cdp"`

	HTTP HTTPConfig `koanf:"http"`
}

// RecorderConfig 录制器配置
type RecorderConfig struct {
	ShowDuplicates     bool          `koanf:"show_duplicates"`
	IgnoreAdminSurface bool          `koanf:"ignore_admin_surface"`
	HighlightTracked   bool          `koanf:"highlight_tracked"`
	TrackingAttributes []string      `koanf:"tracking_attributes"`
	OwnSurfaceIDs      []string      `koanf:"own_surface_ids"`
	AdminSurfaceIDs    []string      `koanf:"admin_surface_ids"`
	PersistTimeout     time.Duration `koanf:"persist_timeout"`
}

// HTTPConfig 管理接口配置
type HTTPConfig struct {
	Addr           string   `koanf:"addr"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// SandboxRate 每个 IP 每分钟允许的沙盒请求数
	SandboxRate int `koanf:"sandbox_rate"`
}

// AnalyticsConfig 第三方统计配置
type AnalyticsConfig struct {
	Rybbit struct {
		Host   string `koanf:"host"`
		SiteID string `koanf:"site_id"`
	} `koanf:"rybbit"`
	Google struct {
		MeasurementID string `koanf:"measurement_id"`
		APISecret     string `koanf:"api_secret"`
	} `koanf:"google"`
	SuppressAdmin bool `koanf:"suppress_admin"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "evtrack.sqlite3"
	c.Sqlite.Prefix = "evtrack_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/evtrack.log"
	c.Recorder = RecorderConfig{
		ShowDuplicates:     false,
		IgnoreAdminSurface: true,
		HighlightTracked:   true,
		TrackingAttributes: []string{"data-testid", "data-track-id"},
		OwnSurfaceIDs:      []string{"evtrack-recorder"},
		AdminSurfaceIDs:    []string{"wpadminbar"},
		PersistTimeout:     10 * time.Second,
	}
	c.Analytics.Rybbit.Host = "https://app.rybbit.io"
	c.Analytics.SuppressAdmin = true
	c.HTTP = HTTPConfig{
		Addr:           "127.0.0.1:8787",
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		SandboxRate:    30,
	}
	return c
}

// Load 加载配置：默认值 -> YAML 文件（path 为空或不存在时跳过） -> 环境变量
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(NewConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey EVTRACK_SQLITE__DSN -> sqlite.dsn
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// CustomRules 规范化后的自定义事件规则
func (c *Config) CustomRules() ([]rulespec.Rule, error) {
	return rulespec.Normalize(c.Rules.Custom)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Sqlite.Dsn == "" {
		return fmt.Errorf("sqlite.dsn is required")
	}
	rules, err := c.CustomRules()
	if err != nil {
		return fmt.Errorf("rules.custom: %w", err)
	}
	if err := rulespec.Validate(rules); err != nil {
		return fmt.Errorf("rules.custom: %w", err)
	}
	return nil
}
