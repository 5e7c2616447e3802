package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/accessibility/config"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// 配置信息，命令行参数覆盖配置文件
	configPath   = flag.String("config", "", "yaml config file path (empty means defaults + env)")
	snapshotPath = flag.String("snapshot", "", "network snapshot [format: {fspath} or {db}.{col}]")
	mongoURI     = flag.String("mongo_uri", "", "mongo db uri")
	cacheDir     = flag.String("cache", "", "input cache dir path (empty means disable cache)")
	listenAddr   = flag.String("listen", "", "connect listening address")
	logLevel     = flag.String("log-level", "", "log level [trace, debug, info, warn, error]")
	footpaths    = flag.Bool("footpaths", false, "generate walking transfers between nearby stops")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "", "pprof and health check listening address")
)

// 命令行中显式给出的参数覆盖cfg
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "snapshot":
			cfg.Snapshot.Path = *snapshotPath
		case "mongo_uri":
			cfg.Snapshot.MongoURI = *mongoURI
		case "cache":
			cfg.Snapshot.CacheDir = *cacheDir
		case "listen":
			cfg.Server.Listen = *listenAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "footpaths":
			cfg.Footpaths.Enabled = *footpaths
		case "pprof":
			cfg.Server.Debug = *pprofAddr
		}
	})
}

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		logrus.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", cfg.Log.Level)
	}
	logrus.SetLevel(level)

	store, err := loadNetwork(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to load network: %v", err)
	}
	log.Infof("network %s loaded: %+v", store.Dataset(), store.Stats())
	server := NewAccessibilityServer(store, cfg.Engine, cfg.Server)

	if cfg.Server.Debug != "" {
		startHTTPDebugger(cfg.Server.Debug, server)
	}

	if *benchmark {
		runBenchmark(server)
		return
	}

	mux := http.NewServeMux()
	mux.Handle(NewAccessibilityServiceHandler(server))

	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// SIGHUP重新加载快照
	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for range reloadCh {
			log.Info("reloading network...")
			start := time.Now()
			next, err := loadNetwork(context.Background(), cfg)
			if err != nil {
				log.Errorf("reload failed, keep current network: %v", err)
				continue
			}
			server.Reload(next)
			log.Infof("reload finished in %v", time.Since(start))
		}
	}()

	// 优雅退出
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	log.Infof("server listening at %v", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	server.Close()
	log.Info("accessibility closes")
}
