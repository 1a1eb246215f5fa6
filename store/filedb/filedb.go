// Package filedb gives the CLI a database that survives process restarts,
// without reaching for an external storage engine the retrieval pack never
// imports: it loads the whole keyspace into an in-process memdb.DB at open
// and gob-encodes it back out on Save, the same map-snapshot shape the
// teacher's memorydb already holds in memory.
package filedb

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"

	"github.com/larry0x/mttree/store"
	"github.com/larry0x/mttree/store/memdb"
)

// DB wraps a memdb.DB with load-on-open/save-on-demand persistence to a
// single flat file.
type DB struct {
	*memdb.DB
	path string
}

// Open loads path into memory, or returns an empty DB if path does not yet
// exist.
func Open(path string) (*DB, error) {
	db := &DB{DB: memdb.New(), path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return db, nil
	}

	var snapshot map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snapshot); err != nil {
		return nil, err
	}
	for k, v := range snapshot {
		if err := db.DB.Put(context.Background(), []byte(k), v); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Save gob-encodes the current keyspace and writes it to path, replacing
// any existing contents.
func (d *DB) Save() error {
	snapshot, err := d.snapshot()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return err
	}
	return os.WriteFile(d.path, buf.Bytes(), 0o644)
}

func (d *DB) snapshot() (map[string][]byte, error) {
	ctx := context.Background()
	iter, err := d.DB.Range(ctx, nil, nil, store.Asc)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string][]byte)
	for iter.Next() {
		out[string(iter.Key())] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
