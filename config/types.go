package config

import "time"

// SnapshotConfig 网络快照来源
type SnapshotConfig struct {
	// 本地BSON文件，或mongo中的{db}.{coll}
	Path     string `yaml:"path" validate:"required"`
	MongoURI string `yaml:"mongo_uri"`
	// 从mongo下载后缓存到该目录，为空则不缓存
	CacheDir            string `yaml:"cache_dir"`
	MaxTransfersPerStop int    `yaml:"max_transfers_per_stop" validate:"gte=0"`
}

// FootpathConfig 加载时补充步行换乘
type FootpathConfig struct {
	Enabled      bool    `yaml:"enabled"`
	WalkingSpeed float64 `yaml:"walking_speed" validate:"gt=0"`
	MaxDuration  int32   `yaml:"max_duration" validate:"gt=0"`
	DetourFactor float64 `yaml:"detour_factor" validate:"gte=1"`
}

// EngineConfig 查询的默认参数，请求中可以覆盖
type EngineConfig struct {
	Workers       int           `yaml:"workers" validate:"gte=0"`
	MaxTransfers  int           `yaml:"max_transfers" validate:"gte=0,lte=16"`
	MaxDuration   time.Duration `yaml:"max_duration" validate:"gte=0"`
	MinChangeTime time.Duration `yaml:"min_change_time" validate:"gte=0"`
	TimeBudget    time.Duration `yaml:"time_budget" validate:"gte=0"`
	LandUseMode   string        `yaml:"land_use_mode" validate:"oneof=positional cumulative"`
	DepartureMode string        `yaml:"departure_mode" validate:"oneof=steps trips"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required"`
	// pprof与健康检查地址，为空则不启动
	Debug     string        `yaml:"debug"`
	CacheSize int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
}

// Config 根配置
type Config struct {
	Snapshot  SnapshotConfig `yaml:"snapshot"`
	Footpaths FootpathConfig `yaml:"footpaths"`
	Engine    EngineConfig   `yaml:"engine"`
	Server    ServerConfig   `yaml:"server"`
	Log       LogConfig      `yaml:"log"`
}
