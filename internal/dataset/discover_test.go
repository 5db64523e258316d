package dataset

import (
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

func TestResolveShardsGroupsByDirectory(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a", "shard-000000.tar"))
	mustWrite(t, filepath.Join(dir, "a", "shard-000001.tar"))
	mustWrite(t, filepath.Join(dir, "b", "shard-000002.tar"))

	roots, err := ResolveShards(dir)
	if err != nil {
		t.Fatalf("ResolveShards: %v", err)
	}
	if len(roots) != 2 || len(roots[filepath.Join(dir, "a")]) != 2 || len(roots[filepath.Join(dir, "b")]) != 1 {
		t.Fatalf("unexpected grouping: %v", roots)
	}
}

func TestResolveShardsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.tar")
	mustWrite(t, path)

	roots, err := ResolveShards(path)
	if err != nil {
		t.Fatalf("ResolveShards: %v", err)
	}
	if got := roots[dir]; len(got) != 1 || got[0] != path {
		t.Fatalf("unexpected roots: %v", roots)
	}
}

func TestResolveShardsMissing(t *testing.T) {
	if _, err := ResolveShards(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing dataset")
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
