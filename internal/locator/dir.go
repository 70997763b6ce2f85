package locator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bluele/gcache"
	"github.com/fsnotify/fsnotify"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

const dirCacheSize = 128

var errNotShared = errors.New("not a shared file")

// Dir shares the regular files directly inside one directory. A file's
// identifier is its name.
type Dir struct {
	root    string
	logger  *slog.Logger
	cache   gcache.Cache
	watcher *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

func NewDir(root string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening share dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("share dir %s is not a directory", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(abs); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", abs, err)
	}

	d := &Dir{
		root:    abs,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	d.cache = gcache.New(dirCacheSize).LRU().LoaderFunc(d.load).Build()

	go d.watch()
	logger.Info("Sharing directory", "path", abs)
	return d, nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Exists(fileID string) bool {
	_, ok := d.Resolve(fileID)
	return ok
}

func (d *Dir) Resolve(fileID string) (transport.Resource, bool) {
	if !validName(fileID) {
		return transport.Resource{}, false
	}
	v, err := d.cache.Get(fileID)
	if err != nil {
		return transport.Resource{}, false
	}
	return v.(transport.Resource), true
}

func (d *Dir) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.watcher.Close()
	})
	return err
}

func (d *Dir) load(key interface{}) (interface{}, error) {
	name := key.(string)
	path := filepath.Join(d.root, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errNotShared
	}
	return transport.Resource{Name: name, Path: path, Size: info.Size()}, nil
}

func (d *Dir) watch() {
	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				d.cache.Remove(filepath.Base(event.Name))
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("Share dir watcher error, purging cache", "error", err)
			d.cache.Purge()
		}
	}
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}
