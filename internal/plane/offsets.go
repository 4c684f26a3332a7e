// v2
// internal/plane/offsets.go
package plane

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Offsets is a JSON-persisted checkpoint map topic -> partition -> last
// consumed offset. Restart resumes at offset+1, so a crash between
// handler effect and Save replays at most the unsaved tail.
type Offsets struct {
	path string

	mu   sync.Mutex
	data map[string]map[string]int64
}

func NewOffsets(path string) (*Offsets, error) {
	o := &Offsets{path: path, data: map[string]map[string]int64{}}
	if err := o.load(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Offsets) load() error {
	raw, err := os.ReadFile(o.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read offsets %s: %w", o.path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &o.data); err != nil {
		return fmt.Errorf("parse offsets %s: %w", o.path, err)
	}
	return nil
}

// Get returns the checkpointed offset, -1 when the channel has never
// been consumed.
func (o *Offsets) Get(topic string, partition int) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	parts, ok := o.data[topic]
	if !ok {
		return -1
	}
	off, ok := parts[strconv.Itoa(partition)]
	if !ok {
		return -1
	}
	return off
}

func (o *Offsets) Set(topic string, partition int, offset int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parts, ok := o.data[topic]
	if !ok {
		parts = map[string]int64{}
		o.data[topic] = parts
	}
	parts[strconv.Itoa(partition)] = offset
}

// Save writes the checkpoint file atomically via a temp-file rename.
func (o *Offsets) Save() error {
	o.mu.Lock()
	raw, err := json.MarshalIndent(o.data, "", "  ")
	o.mu.Unlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(o.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("offsets dir: %w", err)
		}
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write offsets: %w", err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return fmt.Errorf("rename offsets: %w", err)
	}
	return nil
}
