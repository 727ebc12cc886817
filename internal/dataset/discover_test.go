package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"))
	mustWrite(t, filepath.Join(dir, "nested", "shard-000001.tar"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverShardsGrowth(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"))

	first, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("first discover error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 shard, got %d", len(first))
	}

	mustWrite(t, filepath.Join(dir, "shard-000001.tar"))

	second, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("second discover error: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(second))
	}
}

func TestDiscoverImagesLabelsByFolder(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, PositiveDir, "a.PNG"))
	mustWrite(t, filepath.Join(dir, PositiveDir, "nested", "b.jpeg"))
	mustWrite(t, filepath.Join(dir, NegativeDir, "c.bmp"))
	mustWrite(t, filepath.Join(dir, NegativeDir, "notes.txt"))

	files, err := DiscoverImages(dir)
	if err != nil {
		t.Fatalf("DiscoverImages error: %v", err)
	}
	want := make(map[string]int)
	want[filepath.Join(dir, PositiveDir, "a.PNG")] = 1
	want[filepath.Join(dir, PositiveDir, "nested", "b.jpeg")] = 1
	want[filepath.Join(dir, NegativeDir, "c.bmp")] = 0
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), files)
	}
	for i, f := range files {
		label, ok := want[f.Path]
		if !ok || label != f.Label {
			t.Fatalf("unexpected file %+v", f)
		}
		if i > 0 && files[i-1].Path > f.Path {
			t.Fatalf("files not sorted: %v", files)
		}
	}
}

func TestDiscoverImagesErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, PositiveDir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverImages(dir); !errors.Is(err, ErrMissingClassDir) {
		t.Fatalf("expected ErrMissingClassDir, got %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, NegativeDir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverImages(dir); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
