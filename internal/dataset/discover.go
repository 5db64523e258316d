package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards returns paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// ResolveShards accepts either a single tar file or a directory of shards
// and groups the result by parent directory.
func ResolveShards(path string) (map[string][]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	var shards []string
	if info.IsDir() {
		shards, err = DiscoverShards(path)
		if err != nil {
			return nil, err
		}
	} else {
		shards = []string{path}
	}
	byRoot := make(map[string][]string)
	for _, shard := range shards {
		root := filepath.Dir(shard)
		byRoot[root] = append(byRoot[root], shard)
	}
	return byRoot, nil
}
