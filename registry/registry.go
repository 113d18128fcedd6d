package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"quotesync/config"
	"quotesync/internal/symbols"
	"quotesync/logger"
	"quotesync/models"
)

var (
	// ErrNotFound is returned by Resolve for symbols absent from the
	// current snapshot.
	ErrNotFound = errors.New("instrument not found")
	// ErrNoInstruments is returned by Refresh when every cache tier
	// came up empty. Callers should retry later rather than abort.
	ErrNoInstruments = errors.New("no instruments available")
)

// Fetcher retrieves the full instrument listing from the provider.
type Fetcher interface {
	FetchInstruments(ctx context.Context) ([]models.Instrument, error)
}

// indexedSnapshot pairs a snapshot with the lookup indices built from
// it. The whole struct is swapped atomically so readers never observe
// a snapshot without its indices.
type indexedSnapshot struct {
	snap     *models.CacheSnapshot
	bySymbol map[string]models.Instrument
	options  map[string]struct{}
}

// Registry answers symbol classification queries against a tiered
// instrument cache: in-memory snapshot first, durable JSON file
// second, provider fetch last. Classification runs once per inbound
// message so the memory tier must stay lock-free for readers.
type Registry struct {
	cfg     config.RegistryConfig
	fetcher Fetcher
	store   *SnapshotStore
	log     *logger.Log

	current atomic.Pointer[indexedSnapshot]
	mu      sync.Mutex // serializes Refresh
}

func New(cfg config.RegistryConfig, fetcher Fetcher) *Registry {
	return &Registry{
		cfg:     cfg,
		fetcher: fetcher,
		store:   NewSnapshotStore(cfg.CacheDir),
		log:     logger.GetLogger(),
	}
}

// Resolve looks up an instrument by symbol in the current snapshot.
func (r *Registry) Resolve(symbol string) (models.Instrument, error) {
	idx := r.current.Load()
	if idx == nil {
		return models.Instrument{}, ErrNotFound
	}
	inst, ok := idx.bySymbol[symbol]
	if !ok {
		return models.Instrument{}, ErrNotFound
	}
	return inst, nil
}

// IsOption reports whether the symbol names a listed option contract.
func (r *Registry) IsOption(symbol string) bool {
	idx := r.current.Load()
	if idx == nil {
		return false
	}
	_, ok := idx.options[symbol]
	return ok
}

// IsRepo reports whether the symbol names a caucion contract. The
// provider listing does not classify cauciones, so this is derived
// from the tenor suffix alone and works even before the first refresh.
func (r *Registry) IsRepo(symbol string) bool {
	return symbols.IsCaucion(symbol)
}

// Classify returns the classification for a symbol, defaulting to
// security for symbols the registry has never seen.
func (r *Registry) Classify(symbol string) models.Classification {
	if r.IsRepo(symbol) {
		return models.ClassRepo
	}
	if r.IsOption(symbol) {
		return models.ClassOption
	}
	if inst, err := r.Resolve(symbol); err == nil {
		return inst.Classification
	}
	return models.ClassSecurity
}

// Symbols returns every symbol in the current snapshot.
func (r *Registry) Symbols() []string {
	idx := r.current.Load()
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.bySymbol))
	for s := range idx.bySymbol {
		out = append(out, s)
	}
	return out
}

// OptionSymbols returns every option symbol in the current snapshot.
func (r *Registry) OptionSymbols() []string {
	idx := r.current.Load()
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.options))
	for s := range idx.options {
		out = append(out, s)
	}
	return out
}

// RegistryStats summarizes the current snapshot for reporting.
type RegistryStats struct {
	Count      int
	Options    int
	Repos      int
	Age        time.Duration
	Origin     string
	SnapshotAt time.Time
}

func (r *Registry) Stats() RegistryStats {
	idx := r.current.Load()
	if idx == nil {
		return RegistryStats{}
	}
	stats := RegistryStats{
		Count:      len(idx.bySymbol),
		Options:    len(idx.options),
		Age:        idx.snap.Age(time.Now()),
		SnapshotAt: idx.snap.Timestamp,
	}
	for _, inst := range idx.bySymbol {
		if inst.Classification == models.ClassRepo {
			stats.Repos++
		}
	}
	if origin, ok := idx.snap.Metadata["origin"]; ok {
		stats.Origin = origin
	}
	return stats
}

// Refresh walks the cache tiers and returns the best available
// snapshot. With forceReload the memory and file tiers are skipped.
// A provider failure degrades to the most recent snapshot regardless
// of age; only when every tier is empty does the caller get
// ErrNoInstruments.
func (r *Registry) Refresh(ctx context.Context, forceReload bool) (*models.CacheSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	log := r.log.WithComponent("registry")

	if !forceReload {
		if idx := r.current.Load(); idx != nil && idx.snap.Age(now) <= r.cfg.MemoryTTL {
			return idx.snap, nil
		}

		if snap, err := r.store.Load(); err == nil && snap.Age(now) <= r.cfg.FileTTL && len(snap.Instruments) > 0 {
			r.install(snap)
			log.WithFields(logger.Fields{
				"count":   snap.Count,
				"age_sec": int(snap.Age(now).Seconds()),
			}).Info("loaded instrument snapshot from file cache")
			return snap, nil
		}
	}

	instruments, err := r.fetcher.FetchInstruments(ctx)
	if err != nil || len(instruments) == 0 {
		if err != nil {
			log.WithError(err).Warn("instrument fetch failed; falling back to cached snapshot")
		} else {
			log.Warn("instrument fetch returned empty listing; falling back to cached snapshot")
		}
		return r.fallback(now, err)
	}

	snap := &models.CacheSnapshot{
		Timestamp:   now,
		TTL:         r.cfg.FileTTL,
		Instruments: classifyAll(instruments, now),
		Count:       len(instruments),
		Metadata:    map[string]string{"origin": "provider"},
	}
	if err := r.store.Save(snap); err != nil {
		log.WithError(err).Warn("failed to persist instrument snapshot")
	}
	r.install(snap)
	log.WithFields(logger.Fields{"count": snap.Count}).Info("refreshed instrument snapshot from provider")
	return snap, nil
}

// fallback serves the freshest snapshot we still have, ignoring TTLs.
func (r *Registry) fallback(now time.Time, fetchErr error) (*models.CacheSnapshot, error) {
	log := r.log.WithComponent("registry")

	if idx := r.current.Load(); idx != nil && len(idx.snap.Instruments) > 0 {
		log.WithFields(logger.Fields{
			"age_sec": int(idx.snap.Age(now).Seconds()),
		}).Warn("serving stale in-memory snapshot")
		return idx.snap, nil
	}

	if snap, err := r.store.Load(); err == nil && len(snap.Instruments) > 0 {
		r.install(snap)
		log.WithFields(logger.Fields{
			"count":   snap.Count,
			"age_sec": int(snap.Age(now).Seconds()),
		}).Warn("serving stale file snapshot")
		return snap, nil
	}

	if fetchErr != nil {
		return nil, errors.Join(ErrNoInstruments, fetchErr)
	}
	return nil, ErrNoInstruments
}

func (r *Registry) install(snap *models.CacheSnapshot) {
	idx := &indexedSnapshot{
		snap:     snap,
		bySymbol: make(map[string]models.Instrument, len(snap.Instruments)),
		options:  make(map[string]struct{}),
	}
	for _, inst := range snap.Instruments {
		idx.bySymbol[inst.Symbol] = inst
		if inst.Classification == models.ClassOption {
			idx.options[inst.Symbol] = struct{}{}
		}
	}
	r.current.Store(idx)
}

// classifyAll fills in the classification and repo tenor for a raw
// provider listing. Options carry a CFI code; cauciones are inferred
// from the tenor suffix; everything else is a plain security.
func classifyAll(instruments []models.Instrument, now time.Time) []models.Instrument {
	out := make([]models.Instrument, len(instruments))
	for i, inst := range instruments {
		inst.LastSeen = now
		switch {
		case inst.IsOption():
			inst.Classification = models.ClassOption
		default:
			if days, ok := symbols.CaucionTenor(inst.Symbol); ok {
				inst.Classification = models.ClassRepo
				inst.TenorDays = days
			} else {
				inst.Classification = models.ClassSecurity
			}
		}
		out[i] = inst
	}
	return out
}
