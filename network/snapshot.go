package network

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// 集合中每个文档的class
const (
	ClassMeta     = "meta"
	ClassStop     = "stop"
	ClassRoute    = "route"
	ClassTransfer = "transfer"
	ClassLandUse  = "land_use"
)

type snapshotDoc struct {
	Class string   `bson:"class"`
	Data  bson.Raw `bson:"data"`
}

type snapshotMeta struct {
	Version int32  `bson:"version"`
	Dataset string `bson:"dataset"`
}

// ReadSnapshot 读取单个BSON文档形式的快照
// 先检查版本再整体解码，避免对不兼容的快照做无用功
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	version, ok := raw.Lookup("version").Int32OK()
	if !ok {
		return nil, structural("snapshot", "", "missing version field")
	}
	if version != SnapshotVersion {
		return nil, &VersionMismatchError{Got: version, Want: SnapshotVersion}
	}
	snap := new(Snapshot)
	if err := bson.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func ReadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// WriteSnapshotFile 先写临时文件再rename，读者不会看到写了一半的快照
func WriteSnapshotFile(path string, snap *Snapshot) error {
	data, err := bson.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SnapshotDocuments 将快照拆成集合文档 {class, data}
func SnapshotDocuments(snap *Snapshot) []any {
	docs := make([]any, 0, 1+len(snap.Stops)+len(snap.Routes)+len(snap.Transfers)+len(snap.LandUse))
	docs = append(docs, bson.M{"class": ClassMeta, "data": snapshotMeta{Version: snap.Version, Dataset: snap.Dataset}})
	for _, s := range snap.Stops {
		docs = append(docs, bson.M{"class": ClassStop, "data": s})
	}
	for _, r := range snap.Routes {
		docs = append(docs, bson.M{"class": ClassRoute, "data": r})
	}
	for _, t := range snap.Transfers {
		docs = append(docs, bson.M{"class": ClassTransfer, "data": t})
	}
	for _, l := range snap.LandUse {
		docs = append(docs, bson.M{"class": ClassLandUse, "data": l})
	}
	return docs
}

// DownloadSnapshot 从mongo集合读取快照
func DownloadSnapshot(ctx context.Context, coll *mongo.Collection) (*Snapshot, error) {
	cur, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find snapshot documents in %s: %w", coll.Name(), err)
	}
	return readSnapshotCursor(ctx, cur)
}

func readSnapshotCursor(ctx context.Context, cur *mongo.Cursor) (*Snapshot, error) {
	defer cur.Close(ctx)
	snap := new(Snapshot)
	var meta *snapshotMeta
	for cur.Next(ctx) {
		var doc snapshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode snapshot document: %w", err)
		}
		var err error
		switch doc.Class {
		case ClassMeta:
			meta = new(snapshotMeta)
			err = bson.Unmarshal(doc.Data, meta)
		case ClassStop:
			err = appendDecoded(doc.Data, &snap.Stops)
		case ClassRoute:
			err = appendDecoded(doc.Data, &snap.Routes)
		case ClassTransfer:
			err = appendDecoded(doc.Data, &snap.Transfers)
		case ClassLandUse:
			err = appendDecoded(doc.Data, &snap.LandUse)
		default:
			log.Warnf("unknown snapshot document class %q, skipped", doc.Class)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s document: %w", doc.Class, err)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, structural("snapshot", "", "missing %s document", ClassMeta)
	}
	if meta.Version != SnapshotVersion {
		return nil, &VersionMismatchError{Got: meta.Version, Want: SnapshotVersion}
	}
	snap.Version = meta.Version
	snap.Dataset = meta.Dataset
	return snap, nil
}

func appendDecoded[T any](raw bson.Raw, dst *[]T) error {
	var v T
	if err := bson.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}
