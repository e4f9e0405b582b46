package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dd0wney/shardkv/pkg/coldstore"
	"github.com/dd0wney/shardkv/pkg/config"
	"github.com/dd0wney/shardkv/pkg/engine"
	"github.com/dd0wney/shardkv/pkg/logging"
	"github.com/dd0wney/shardkv/pkg/metrics"
	"github.com/dd0wney/shardkv/pkg/pagecache"
	"github.com/dd0wney/shardkv/pkg/wire"
)

// ErrCollectionNotFound is returned for get/set/delete against a collection
// that was never created (or was dropped).
var ErrCollectionNotFound = errors.New("shardd: collection not found")

// ErrCollectionExists is returned by CreateCollection for a name already
// open.
var ErrCollectionExists = errors.New("shardd: collection already exists")

// collectionManager owns every open engine.Tree for this shard process and
// implements wire.Engine over them, keyed by collection name. It is the
// concrete type cmd/shardd wires into wire.NewServer.
type collectionManager struct {
	dataDir  string
	cache    *pagecache.Cache
	cold     engine.ColdStoreArchiver
	logger   logging.Logger
	metrics  *metrics.Registry
	treeOpts engine.Options

	nodes []wire.NodeInfo
	rf    int

	mu    sync.RWMutex
	trees map[string]*engine.Tree
}

func newCollectionManager(cfg config.Config, cache *pagecache.Cache, cold *coldstore.Store, logger logging.Logger, reg *metrics.Registry) *collectionManager {
	nodes := make([]wire.NodeInfo, 0, len(cfg.ClusterNodes))
	for _, n := range cfg.ClusterNodes {
		nodes = append(nodes, wire.NodeInfo{IP: n.IP, Port: n.Port})
	}

	m := &collectionManager{
		dataDir: cfg.DataDir,
		cache:   cache,
		logger:  logger,
		metrics: reg,
		nodes:   nodes,
		rf:      cfg.ReplicationFactor,
		trees:   make(map[string]*engine.Tree),
	}
	// A nil *coldstore.Store boxed into engine.ColdStoreArchiver would be a
	// non-nil interface with a nil concrete value; only assign m.cold when
	// the store itself is non-nil so Tree.opts.ColdStore stays truly nil
	// when archival is disabled.
	if cold != nil {
		m.cold = cold
	}
	m.treeOpts = engine.Options{
		Capacity:    cfg.TreeCapacity,
		SyncWAL:     cfg.SyncWALFile,
		CompressWAL: cfg.WALCompression,
		Logger:      logger,
		Metrics:     reg,
		ColdStore:   m.cold,
	}
	return m
}

// openExisting reopens every collection subdirectory already present under
// dataDir, so a restarted shard recovers collections created before it last
// stopped.
func (m *collectionManager) openExisting() error {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("shardd: scan data dir %s: %w", m.dataDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		tree, err := engine.OpenOrCreate(m.collectionDir(name), m.cache, m.treeOptsFor(name))
		if err != nil {
			return fmt.Errorf("shardd: reopen collection %s: %w", name, err)
		}
		m.trees[name] = tree
		m.logger.Info("shardd: reopened collection", logging.Collection(name))
	}
	return nil
}

func (m *collectionManager) collectionDir(name string) string {
	return filepath.Join(m.dataDir, name)
}

func (m *collectionManager) treeOptsFor(name string) engine.Options {
	opts := m.treeOpts
	opts.Partition = name
	return opts
}

func (m *collectionManager) CreateCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trees[name]; ok {
		return ErrCollectionExists
	}

	tree, err := engine.OpenOrCreate(m.collectionDir(name), m.cache, m.treeOptsFor(name))
	if err != nil {
		return fmt.Errorf("shardd: create collection %s: %w", name, err)
	}
	m.trees[name] = tree
	m.logger.Info("shardd: created collection", logging.Collection(name))
	return nil
}

func (m *collectionManager) DropCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, ok := m.trees[name]
	if !ok {
		return ErrCollectionNotFound
	}
	delete(m.trees, name)

	// Purge closes the tree's file handles itself before removing the
	// directory; a separate Close here would double-close them.
	if err := tree.Purge(); err != nil {
		return fmt.Errorf("shardd: purge collection %s: %w", name, err)
	}
	m.logger.Info("shardd: dropped collection", logging.Collection(name))
	return nil
}

func (m *collectionManager) lookup(name string) (*engine.Tree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.trees[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return tree, nil
}

func (m *collectionManager) Get(ctx context.Context, collection string, key []byte) ([]byte, bool, error) {
	tree, err := m.lookup(collection)
	if err != nil {
		return nil, false, err
	}
	value, err := tree.Get(ctx, key)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *collectionManager) Set(ctx context.Context, collection string, key, value []byte) error {
	tree, err := m.lookup(collection)
	if err != nil {
		return err
	}
	return tree.Set(ctx, key, value)
}

func (m *collectionManager) Delete(ctx context.Context, collection string, key []byte) error {
	tree, err := m.lookup(collection)
	if err != nil {
		return err
	}
	return tree.Delete(ctx, key)
}

func (m *collectionManager) ClusterMetadata() ([]wire.NodeInfo, int) {
	return m.nodes, m.rf
}

// Close closes every open tree, continuing past individual failures and
// returning the first one encountered.
func (m *collectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, tree := range m.trees {
		if err := tree.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shardd: close collection %s: %w", name, err)
		}
	}
	return firstErr
}
