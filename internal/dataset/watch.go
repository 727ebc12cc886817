package dataset

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Change lists the image files touched during one quiet period.
type Change struct {
	Paths []string
	At    time.Time
}

const defaultDebounce = 2 * time.Second

// Watch reports changes to images under the class folders of root. Events
// are coalesced until no new event arrives for debounce. The channel closes
// when ctx is done.
func Watch(ctx context.Context, root string, debounce time.Duration, log *zap.Logger) (<-chan Change, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	for _, class := range []string{PositiveDir, NegativeDir} {
		if err := watchTree(w, filepath.Join(root, class)); err != nil {
			w.Close()
			return nil, err
		}
	}

	out := make(chan Change, 1)
	go func() {
		defer close(out)
		defer w.Close()

		pending := make(map[string]struct{})
		var flush <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := watchTree(w, ev.Name); err != nil {
							log.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
						}
						continue
					}
				}
				if ev.Op == fsnotify.Chmod || !imageRegexp.MatchString(ev.Name) {
					continue
				}
				pending[ev.Name] = struct{}{}
				flush = time.After(debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("dataset watch error", zap.Error(err))
			case <-flush:
				flush = nil
				change := Change{At: time.Now()}
				for p := range pending {
					change.Paths = append(change.Paths, p)
				}
				sort.Strings(change.Paths)
				pending = make(map[string]struct{})
				log.Debug("dataset changed", zap.Int("files", len(change.Paths)))
				select {
				case <-ctx.Done():
					return
				case out <- change:
				}
			}
		}
	}()
	return out, nil
}

func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "watch %s", path)
		}
		if !d.IsDir() {
			return nil
		}
		return errors.Wrapf(w.Add(path), "watch %s", path)
	})
}
