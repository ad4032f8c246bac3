// Package schemarefresh builds endpoint snapshots from the schema definition
// file and swaps in rebuilt ones when the file changes.
package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"rel-graphql/internal/logging"
	"rel-graphql/internal/observability"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/schemafilter"
	"rel-graphql/internal/storage"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
)

// Snapshot is an immutable view of one built schema.
type Snapshot struct {
	Schema      *graphql.Schema
	Handler     http.Handler
	Source      *schema.Schema
	SDL         string
	BuiltAt     time.Time
	Fingerprint string
}

// Config controls snapshot builds and the refresh loop.
type Config struct {
	Path         string
	Store        storage.Client
	Logger       *logging.Logger
	Metrics      *observability.RefreshMetrics
	MinInterval  time.Duration
	MaxInterval  time.Duration
	GraphiQL     bool
	Filters      schemafilter.Config
	Mutations    bool
	MaxDepth     int
	DefaultLimit int
	MaxLimit     int
}

// Manager maintains the active snapshot and rebuilds it when the definition
// file changes.
type Manager struct {
	path         string
	store        storage.Client
	logger       *logging.Logger
	metrics      *observability.RefreshMetrics
	minInterval  time.Duration
	maxInterval  time.Duration
	graphiQL     bool
	filters      schemafilter.Config
	mutations    bool
	maxDepth     int
	defaultLimit int
	maxLimit     int

	active atomic.Value
	wg     sync.WaitGroup

	statMu   sync.Mutex
	lastStat fileStat
}

// fileStat is the cheap change signal checked before hashing the file.
type fileStat struct {
	size    int64
	modTime time.Time
}

// NewManager builds the initial snapshot and returns a manager. A definition
// that fails to parse or assemble at startup is an error; later failures keep
// the previous snapshot serving.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("schema refresh manager requires a definition path")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("schema refresh manager requires a storage client")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	manager := &Manager{
		path:         cfg.Path,
		store:        cfg.Store,
		logger:       cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:      cfg.Metrics,
		minInterval:  minInterval,
		maxInterval:  maxInterval,
		graphiQL:     cfg.GraphiQL,
		filters:      cfg.Filters,
		mutations:    cfg.Mutations,
		maxDepth:     cfg.MaxDepth,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}

	start := time.Now()
	snapshot, stat, err := manager.loadAndBuild()
	if err != nil {
		manager.recordRefresh(time.Since(start), false, "startup")
		return nil, err
	}
	manager.active.Store(snapshot)
	manager.setStat(stat)
	manager.recordRefresh(time.Since(start), true, "startup")
	manager.recordTableCount(snapshot)

	return manager, nil
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Handler returns a handler that resolves the active snapshot on every
// request, so swapped-in schemas take effect immediately.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.Current()
		if snapshot == nil || snapshot.Handler == nil {
			http.Error(w, "schema not ready", http.StatusServiceUnavailable)
			return
		}
		snapshot.Handler.ServeHTTP(w, r)
	})
}

// Current returns the active snapshot, or nil before the first build.
func (m *Manager) Current() *Snapshot {
	if value := m.active.Load(); value != nil {
		if snapshot, ok := value.(*Snapshot); ok {
			return snapshot
		}
	}
	return nil
}

// RefreshNow forces a rebuild and swap regardless of file state.
func (m *Manager) RefreshNow() error {
	start := time.Now()
	snapshot, stat, err := m.loadAndBuild()
	if err != nil {
		m.recordRefresh(time.Since(start), false, "manual")
		return err
	}

	m.active.Store(snapshot)
	m.setStat(stat)
	m.recordRefresh(time.Since(start), true, "manual")
	m.recordTableCount(snapshot)
	m.logger.Info("schema refresh complete",
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Int("tables", len(snapshot.Source.Tables)),
	)
	return nil
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(_ context.Context, interval *time.Duration) {
	start := time.Now()

	info, err := os.Stat(m.path)
	if err != nil {
		m.logger.Warn("schema definition check failed", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	// Unchanged size and mtime skip the read and hash entirely.
	if m.sameStat(statOf(info)) {
		m.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		m.logger.Warn("schema definition read failed", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	fingerprint := fingerprintSource(data)
	current := m.Current()
	if current != nil && fingerprint == current.Fingerprint {
		// Touched but content-identical, such as a redeploy writing the
		// same file.
		m.setStat(statOf(info))
		m.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	m.logger.Info("schema change detected, rebuilding", slog.String("fingerprint", fingerprint))
	snapshot, err := m.buildSnapshot(string(data), fingerprint)
	if err != nil {
		// A failed rebuild keeps the previous snapshot active.
		m.logger.Error("failed to rebuild schema", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	m.active.Store(snapshot)
	m.setStat(statOf(info))
	*interval = m.minInterval
	m.recordRefresh(time.Since(start), true, "poll")
	m.recordTableCount(snapshot)
	m.logger.Info("schema refresh complete",
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Int("tables", len(snapshot.Source.Tables)),
	)
}

// loadAndBuild reads the definition file, fingerprints it, and assembles a
// snapshot from it.
func (m *Manager) loadAndBuild() (*Snapshot, fileStat, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return nil, fileStat{}, fmt.Errorf("failed to stat schema definition: %w", err)
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fileStat{}, fmt.Errorf("failed to read schema definition: %w", err)
	}

	snapshot, err := m.buildSnapshot(string(data), fingerprintSource(data))
	if err != nil {
		return nil, fileStat{}, err
	}
	return snapshot, statOf(info), nil
}

func (m *Manager) buildSnapshot(source, fingerprint string) (*Snapshot, error) {
	start := time.Now()

	result, err := BuildSchema(BuildSchemaConfig{
		Filename:     m.path,
		Source:       source,
		Store:        m.store,
		Filters:      m.filters,
		Mutations:    m.mutations,
		MaxDepth:     m.maxDepth,
		DefaultLimit: m.defaultLimit,
		MaxLimit:     m.maxLimit,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("schema definition loaded", slog.Int("tables", len(result.Source.Tables)))
	for _, table := range result.Source.Tables {
		m.logger.Debug("table loaded",
			slog.String("table", table.Name),
			slog.Int("columns", len(table.Columns)),
			slog.Int("relations", len(table.Relations)),
		)
	}

	graphqlSchema := result.GraphQLSchema
	graphqlHandler := handler.New(&handler.Config{
		Schema:     &graphqlSchema,
		Pretty:     true,
		GraphiQL:   m.graphiQL,
		Playground: true,
	})

	m.logger.Info("schema snapshot built", slog.Duration("duration", time.Since(start)))

	return &Snapshot{
		Schema:      &graphqlSchema,
		Handler:     graphqlHandler,
		Source:      result.Source,
		SDL:         result.SDL,
		BuiltAt:     time.Now(),
		Fingerprint: fingerprint,
	}, nil
}

func (m *Manager) recordRefresh(duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(context.Background(), duration, success, trigger)
}

func (m *Manager) recordTableCount(snapshot *Snapshot) {
	if m.metrics == nil || snapshot == nil || snapshot.Source == nil {
		return
	}
	m.metrics.SetTableCount(len(snapshot.Source.Tables))
}

func (m *Manager) setStat(stat fileStat) {
	m.statMu.Lock()
	defer m.statMu.Unlock()
	m.lastStat = stat
}

func (m *Manager) sameStat(stat fileStat) bool {
	m.statMu.Lock()
	defer m.statMu.Unlock()
	return m.lastStat.size == stat.size && m.lastStat.modTime.Equal(stat.modTime)
}

func statOf(info os.FileInfo) fileStat {
	return fileStat{size: info.Size(), modTime: info.ModTime()}
}

// fingerprintSource is the content hash used to decide whether a touched file
// actually changed.
func fingerprintSource(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
