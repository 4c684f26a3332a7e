// v1
// internal/plane/offsets_test.go
package plane

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOffsetsDefaultIsMinusOne(t *testing.T) {
	o, err := NewOffsets(filepath.Join(t.TempDir(), "offsets.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := o.Get("workload", 0); got != -1 {
		t.Fatalf("fresh offset: got %d want -1", got)
	}
}

func TestOffsetsSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "offsets.json")
	o, err := NewOffsets(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	o.Set("workload", 0, 41)
	o.Set("workload", 1, 7)
	o.Set("power", 0, 99)
	if err := o.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewOffsets(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get("workload", 0); got != 41 {
		t.Fatalf("workload/0: got %d", got)
	}
	if got := reloaded.Get("workload", 1); got != 7 {
		t.Fatalf("workload/1: got %d", got)
	}
	if got := reloaded.Get("power", 0); got != 99 {
		t.Fatalf("power/0: got %d", got)
	}
	if got := reloaded.Get("power", 1); got != -1 {
		t.Fatalf("unseen partition: got %d want -1", got)
	}
}

func TestOffsetsSaveLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	o, err := NewOffsets(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	o.Set("results", 0, 3)
	if err := o.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after rename")
	}
}

func TestOffsetsCorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewOffsets(path); err == nil {
		t.Fatal("corrupt checkpoint must fail loudly")
	}
}

func TestOffsetsEmptyFileIsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o, err := NewOffsets(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := o.Get("workload", 0); got != -1 {
		t.Fatalf("empty file offset: got %d", got)
	}
}
