package main

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/sim/accessibility/config"
	"git.fiblab.net/sim/accessibility/network"
)

// loadSnapshot 读取本地文件；mongo来源优先读缓存，未命中时下载并写入缓存
func loadSnapshot(ctx context.Context, cfg config.SnapshotConfig) (*network.Snapshot, error) {
	path, err := NewPath(cfg.Path)
	if err != nil {
		return nil, err
	}
	if path.IsFile() {
		log.Infof("read snapshot from file %s", path)
		return network.ReadSnapshotFile(path.File)
	}
	if cfg.CacheDir != "" {
		cachePath := path.GetCachePath(cfg.CacheDir)
		snap, err := network.ReadSnapshotFile(cachePath)
		switch {
		case err == nil:
			log.Infof("read snapshot %s from cache %s", path, cachePath)
			return snap, nil
		case errors.Is(err, fs.ErrNotExist):
		default:
			// 缓存损坏或版本过旧，重新下载
			log.Warnf("ignore snapshot cache %s: %v", cachePath, err)
		}
	}

	client := mongoutil.NewClient(cfg.MongoURI)
	defer client.Disconnect(context.Background())
	start := time.Now()
	snap, err := network.DownloadSnapshot(ctx, mongoutil.GetMongoColl(client, path))
	if err != nil {
		return nil, err
	}
	log.Infof("downloaded snapshot %s in %v", path, time.Since(start))
	if cfg.CacheDir != "" {
		cachePath := path.GetCachePath(cfg.CacheDir)
		if err := network.WriteSnapshotFile(cachePath, snap); err != nil {
			log.Warnf("failed to write snapshot cache %s: %v", cachePath, err)
		}
	}
	return snap, nil
}

// loadNetwork 读取快照、按需补充步行换乘并构建Store
func loadNetwork(ctx context.Context, cfg *config.Config) (*network.Store, error) {
	snap, err := loadSnapshot(ctx, cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	if cfg.Footpaths.Enabled {
		opts := network.FootpathOptions{
			WalkingSpeed: cfg.Footpaths.WalkingSpeed,
			MaxDuration:  cfg.Footpaths.MaxDuration,
			DetourFactor: cfg.Footpaths.DetourFactor,
		}
		if _, err := network.AddFootpaths(snap, opts); err != nil {
			return nil, err
		}
	}
	return network.NewStore(snap, network.WithMaxTransfersPerStop(cfg.Snapshot.MaxTransfersPerStop))
}
