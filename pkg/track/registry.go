package track

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/utils/cache"
	"github.com/mpapenbr/race-progress/pkg/utils/cache/loadercache"
)

// Registry resolves track names to tracks stored as <dir>/<name>.yml
type Registry struct {
	dir   string
	cache cache.Cache[string, Track]
	l     *log.Logger
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.l = l
	}
}

func NewRegistry(dir string, opts ...RegistryOption) *Registry {
	ret := &Registry{dir: dir, l: log.Default().Named("track")}
	for _, opt := range opts {
		opt(ret)
	}
	ret.cache = loadercache.New(
		loadercache.WithLoader(ret.load),
		loadercache.WithExpiration[string, Track](10*time.Minute),
		loadercache.WithLogger[string, Track](ret.l.Named("cache")),
	)
	return ret
}

func (r *Registry) Get(ctx context.Context, name string) (*Track, error) {
	return r.cache.Get(ctx, name)
}

func (r *Registry) load(_ context.Context, name string) (*Track, error) {
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(r.dir, name+ext)
		t, err := LoadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		r.l.Info("track loaded",
			log.String("name", t.Name()),
			log.String("file", path),
			log.Int("waypoints", t.Len()))
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrTrackNotFound, name, r.dir)
}

// Names lists the tracks available in the registry directory
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		ret = append(ret, e.Name()[:len(e.Name())-len(ext)])
	}
	return ret, nil
}
