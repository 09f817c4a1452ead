package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mindpulse/models"
	"mindpulse/moderation"
)

const (
	resultFilePrefix = "reddit_results_"
	resultFileSuffix = ".json"
	resultTimeLayout = "20060102_150405"
)

// ResultFiles timestamped snapshots of completed queries, read back by the dashboard.
type ResultFiles struct {
	dir    string
	filter *moderation.Filter
	logger *zap.Logger
}

func NewResultFiles(dir string, filter *moderation.Filter, logger *zap.Logger) *ResultFiles {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultFiles{dir: dir, filter: filter, logger: logger.Named("results")}
}

// Save writes the filtered posts to a new snapshot and returns its file name.
// Snapshots taken within the same second get a numeric suffix.
func (r *ResultFiles) Save(posts []models.Post, now time.Time) (string, error) {
	if err := ensureDir(r.dir); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrCacheIO, err)
	}
	kept := r.filter.Repair(posts)
	data, err := encodePosts(kept, true)
	if err != nil {
		return "", fmt.Errorf("%w: encoding snapshot: %v", models.ErrCacheIO, err)
	}

	stamp := resultFilePrefix + now.Format(resultTimeLayout)
	name := stamp + resultFileSuffix
	for i := 1; fileExists(filepath.Join(r.dir, name)); i++ {
		name = stamp + "_" + strconv.Itoa(i) + resultFileSuffix
	}

	if err := writeFileAtomic(filepath.Join(r.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", models.ErrCacheIO, name, err)
	}
	r.logger.Info("snapshot saved", zap.String("file", name), zap.Int("posts", len(kept)))
	return name, nil
}

// List returns snapshot names, newest first.
func (r *ResultFiles) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing snapshots: %v", models.ErrCacheIO, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, resultFilePrefix) && strings.HasSuffix(name, resultFileSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Load reads one snapshot by name and re-applies the active rules.
func (r *ResultFiles) Load(name string) ([]models.Post, error) {
	if name != filepath.Base(name) || !strings.HasPrefix(name, resultFilePrefix) {
		return nil, fmt.Errorf("%w: invalid snapshot name %q", models.ErrValidation, name)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrCacheIO, name, err)
	}
	posts, err := decodePosts(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrCacheIO, name, err)
	}
	return r.filter.Repair(posts), nil
}

// Latest returns the newest snapshot. Both results are empty when none exist.
func (r *ResultFiles) Latest() ([]models.Post, string, error) {
	names, err := r.List()
	if err != nil || len(names) == 0 {
		return nil, "", err
	}
	posts, err := r.Load(names[0])
	if err != nil {
		return nil, names[0], err
	}
	return posts, names[0], nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
