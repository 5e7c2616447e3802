package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 读取的环境变量
const (
	EnvMongoURI = "MONGO_URI"
	EnvLogLevel = "LOG_LEVEL"
)

func Default() *Config {
	return &Config{
		Snapshot: SnapshotConfig{
			MaxTransfersPerStop: 64,
		},
		Footpaths: FootpathConfig{
			WalkingSpeed: 1.4,
			MaxDuration:  600,
			DetourFactor: 1,
		},
		Engine: EngineConfig{
			MaxTransfers:  2,
			MaxDuration:   2 * time.Hour,
			TimeBudget:    30 * time.Second,
			LandUseMode:   "positional",
			DepartureMode: "steps",
		},
		Server: ServerConfig{
			Listen:    "localhost:52107",
			CacheSize: 1024,
			CacheTTL:  10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadEnv 加载.env文件，文件不存在时忽略
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load 以默认值为底，叠加YAML文件（path为空时跳过）与环境变量
// 不做校验，命令行参数覆盖后再调用Validate
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if cfg.Snapshot.MongoURI == "" {
		cfg.Snapshot.MongoURI = os.Getenv(EnvMongoURI)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
