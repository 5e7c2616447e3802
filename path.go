package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path 快照位置：本地文件，或mongo中的{db}.{coll}
type Path struct {
	File string
	DB   string
	Coll string
}

func NewPath(filePathOrColl string) (*Path, error) {
	// 检查filePathOrColl是否作为文件存在
	if _, err := os.Stat(filePathOrColl); err == nil {
		return &Path{
			File: filePathOrColl,
		}, nil
	}
	dbDotColl := strings.TrimSpace(filePathOrColl)
	if dbDotColl == "" {
		return nil, fmt.Errorf("empty snapshot path")
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("snapshot path is neither a file nor {db}.{coll}: %s", dbDotColl)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

func (p *Path) IsFile() bool {
	return p.File != ""
}

func (p *Path) GetDb() string {
	return p.DB
}

func (p *Path) GetColl() string {
	return p.Coll
}

// GetCachePath mongo快照在cacheDir下的缓存文件
func (p *Path) GetCachePath(cacheDir string) string {
	if p.IsFile() {
		return p.File
	}
	return filepath.Join(cacheDir, p.DB+"."+p.Coll+".bson")
}

func (p *Path) String() string {
	if p.IsFile() {
		return p.File
	}
	return p.DB + "." + p.Coll
}
