package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

// Class folder names under a dataset root.
const (
	PositiveDir = "kill_feed"
	NegativeDir = "no_kill_feed"
)

var (
	// ErrMissingClassDir is returned when a class folder does not exist.
	ErrMissingClassDir = errors.New("dataset: class directory missing")
	// ErrNoImages is returned when discovery finds nothing to train on.
	ErrNoImages = errors.New("dataset: no images found")
)

var (
	shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)
	imageRegexp = regexp.MustCompile(`(?i)\.(jpe?g|png|bmp|gif)$`)
)

// ImageFile is a labelled image on disk.
type ImageFile struct {
	Path  string
	Label int
}

// DiscoverImages lists the images of both class folders under root. The
// result is sorted by path so that seeded shuffles are reproducible.
func DiscoverImages(root string) ([]ImageFile, error) {
	var files []ImageFile
	for _, class := range []struct {
		dir   string
		label int
	}{{PositiveDir, 1}, {NegativeDir, 0}} {
		dir := filepath.Join(root, class.dir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, errors.Wrapf(ErrMissingClassDir, "%s", dir)
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !imageRegexp.MatchString(d.Name()) {
				return nil
			}
			files = append(files, ImageFile{Path: path, Label: class.label})
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "discover images")
		}
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "%s", root)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// DiscoverShards returns absolute paths to shard TAR files beneath root.
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
		return nil, errors.Wrap(err, "discover shards")
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverByRoot scans each root independently.
func DiscoverByRoot(roots []string) (map[string][]string, error) {
	result := make(map[string][]string, len(roots))
	for _, root := range roots {
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		result[root] = shards
	}
	return result, nil
}
