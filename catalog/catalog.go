// Package catalog implements the database: the top-level handle that owns
// the shared buffer pool, every table, and the on-disk catalog file
// recording each table's shape and page-level bookkeeping across restarts.
//
// Grounded on the original lstore db.py (Database.open/close, one shared
// bufferpool, a table registry keyed by name) and on the teacher's
// cmd/demo style of wiring a top-level engine handle plus the pack's
// yaml.v3 usage for structured config/metadata persistence.
package catalog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/table"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const catalogFileName = "database.db"

// catalogFile is the YAML document persisted at <root>/database.db.
type catalogFile struct {
	BufferPoolCapacity int               `yaml:"buffer_pool_capacity"`
	Tables             []table.TableMeta `yaml:"tables"`
}

// Database is the top-level storage-engine handle: one shared buffer pool
// plus a registry of named tables.
type Database struct {
	root string
	pool *bufferpool.Pool
	log  *logrus.Logger

	mu     sync.RWMutex
	tables map[string]*table.Table

	flushSched *cron.Cron
}

// Open creates or reopens a database rooted at path: if a catalog file
// already exists there, every table's shape and page bookkeeping is
// restored and its indexes reloaded from disk; otherwise an empty database
// is returned. Either way every table's merger (and, for async tables, its
// index workers) is started before Open returns.
func Open(path string, bufferPoolCapacity int, log *logrus.Logger) (*Database, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "catalog: open: mkdir %q", path)
	}

	pool, err := bufferpool.New(path, bufferPoolCapacity, log)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: open: buffer pool")
	}

	db := &Database{
		root:   path,
		pool:   pool,
		log:    log,
		tables: make(map[string]*table.Table),
	}

	catPath := filepath.Join(path, catalogFileName)
	if _, statErr := os.Stat(catPath); statErr == nil {
		if err := db.load(catPath); err != nil {
			return nil, errors.Wrap(err, "catalog: open: load catalog")
		}
	}

	for _, t := range db.tables {
		t.StartMerger()
	}
	return db, nil
}

func (db *Database) load(catPath string) error {
	f, err := os.Open(catPath)
	if err != nil {
		return errors.Wrapf(err, "catalog: read %q", catPath)
	}
	defer f.Close()

	var cf catalogFile
	if err := yaml.NewDecoder(f).Decode(&cf); err != nil {
		return errors.Wrapf(err, "catalog: decode %q", catPath)
	}

	for _, meta := range cf.Tables {
		t := table.Restore(meta, db.pool, db.log)
		if err := t.LoadIndexes(db.root); err != nil {
			return errors.Wrapf(err, "catalog: load indexes for table %q", meta.Name)
		}
		db.tables[meta.Name] = t
	}
	return nil
}

// CreateTable registers a new, empty table. Fails if a table with the same
// name already exists.
func (db *Database) CreateTable(cfg table.Config) (*table.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[cfg.Name]; exists {
		return nil, errors.Wrapf(common.ErrDuplicateKey, "catalog: table %q already exists", cfg.Name)
	}
	t := table.New(cfg, db.pool, db.log)
	t.StartMerger()
	db.tables[cfg.Name] = t
	return t, nil
}

// GetTable returns the named table, or common.ErrNotFound.
func (db *Database) GetTable(name string) (*table.Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "catalog: table %q", name)
	}
	return t, nil
}

// DropTable removes a table from the registry. Its on-disk pages and index
// files are not reclaimed — matching the original's drop_table, which only
// ever forgot the in-memory handle.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return errors.Wrapf(common.ErrNotFound, "catalog: table %q", name)
	}
	t.StopMerger()
	t.StopAsyncWorkers()
	delete(db.tables, name)
	return nil
}

// StartPeriodicFlush asks the buffer pool to write out dirty pages on the
// given cron schedule (seconds-field syntax, e.g. "0 */5 * * * *" for every
// five minutes) without evicting them, as an extra durability knob layered
// on top of the pool's mandatory write-through-on-eviction behavior. It is
// never started automatically: disabled by default so that the only thing
// a caller needs to cancel is Close, per spec.md §5.
func (db *Database) StartPeriodicFlush(schedule string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.flushSched != nil {
		return errors.New("catalog: periodic flush already running")
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		if err := db.pool.Flush(); err != nil {
			db.log.WithError(err).Warn("catalog: periodic flush failed")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "catalog: periodic flush: bad schedule %q", schedule)
	}
	c.Start()
	db.flushSched = c
	return nil
}

// StopPeriodicFlush cancels a schedule started by StartPeriodicFlush. A
// no-op if none is running.
func (db *Database) StopPeriodicFlush() {
	db.mu.Lock()
	sched := db.flushSched
	db.flushSched = nil
	db.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
}

// TableNames returns every registered table's name, in no particular order.
func (db *Database) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	return names
}

// Close stops every table's merger and index workers (draining their
// queues), flushes the buffer pool to disk, and persists the catalog file
// and every table's indexes. The database handle must not be used again
// after Close.
func (db *Database) Close() error {
	db.StopPeriodicFlush()

	db.mu.Lock()
	defer db.mu.Unlock()

	cf := catalogFile{BufferPoolCapacity: 0, Tables: make([]table.TableMeta, 0, len(db.tables))}
	for _, t := range db.tables {
		t.StopMerger()
	}
	for _, t := range db.tables {
		if err := t.SaveIndexes(db.root); err != nil {
			return errors.Wrapf(err, "catalog: close: save indexes for table %q", t.Name())
		}
		t.StopAsyncWorkers()
		cf.Tables = append(cf.Tables, t.Describe())
	}

	if err := db.pool.EvictAll(); err != nil {
		return errors.Wrap(err, "catalog: close: flush buffer pool")
	}

	catPath := filepath.Join(db.root, catalogFileName)
	tmp := catPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "catalog: close: create %q", tmp)
	}
	enc := yaml.NewEncoder(f)
	encErr := enc.Encode(&cf)
	closeErr := enc.Close()
	f.Close()
	if encErr != nil {
		return errors.Wrapf(encErr, "catalog: close: encode %q", catPath)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "catalog: close: encode %q", catPath)
	}
	if err := os.Rename(tmp, catPath); err != nil {
		return errors.Wrapf(err, "catalog: close: rename %q", catPath)
	}
	return nil
}
