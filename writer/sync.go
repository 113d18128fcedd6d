package writer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quotesync/config"
	"quotesync/internal/channel"
	"quotesync/internal/symbols"
	"quotesync/logger"
	"quotesync/models"
)

// sheetEnsurer is implemented by stores that can create missing
// sheets, like ExcelStore.
type sheetEnsurer interface {
	EnsureSheet(name string) error
}

// saver is implemented by stores that buffer writes in memory.
type saver interface {
	Save() error
}

// SyncStats counts synchronizer activity.
type SyncStats struct {
	Cycles             int64
	RowsWritten        int64
	CaucionRows        int64
	Appends            int64
	DuplicatesRepaired int64
	WriteErrors        int64
}

// Synchronizer drains canonical quotes and mirrors them into the sink
// on a fixed cadence. It owns the symbol-to-row index exclusively; the
// feed side only ever touches the quote channel.
//
// Each cycle issues one dense range write covering the contiguous row
// span of all pending updates, with nil rows for untouched symbols.
// Cauciones go to a fixed side table instead of the main block.
type Synchronizer struct {
	cfg   config.SinkConfig
	store Store
	ch    *channel.Channels
	log   *logger.Log
	now   func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	index   map[string]int
	lastRow int
	pending map[string]models.CanonicalQuote

	stats SyncStats
}

func NewSynchronizer(cfg config.SinkConfig, store Store, ch *channel.Channels) *Synchronizer {
	return &Synchronizer{
		cfg:     cfg,
		store:   store,
		ch:      ch,
		log:     logger.GetLogger(),
		now:     time.Now,
		index:   make(map[string]int),
		lastRow: headerRow,
		pending: make(map[string]models.CanonicalQuote),
	}
}

// Start prepares the sheet (headers, row index, duplicate repair) and
// launches the flush worker.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("synchronizer already running")
	}
	s.running = true
	s.mu.Unlock()

	if es, ok := s.store.(sheetEnsurer); ok {
		if err := es.EnsureSheet(s.cfg.QuotesSheet); err != nil {
			return fmt.Errorf("failed to prepare quotes sheet: %w", err)
		}
	}
	if err := s.ensureHeaders(); err != nil {
		return fmt.Errorf("failed to ensure headers: %w", err)
	}
	if err := s.rebuildIndex(); err != nil {
		return fmt.Errorf("failed to build row index: %w", err)
	}

	s.log.WithComponent("sink_sync").WithFields(logger.Fields{
		"sheet":          s.cfg.QuotesSheet,
		"indexed_rows":   len(s.index),
		"flush_interval": s.cfg.FlushInterval.String(),
	}).Info("starting sink synchronizer")

	s.wg.Add(1)
	go s.flushWorker(ctx)
	return nil
}

// Stop waits for the flush worker, which performs a final drain-and-
// write before exiting.
func (s *Synchronizer) Stop() {
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	stats := s.stats
	s.mu.Unlock()

	s.log.WithComponent("sink_sync").WithFields(logger.Fields{
		"cycles":       stats.Cycles,
		"rows_written": stats.RowsWritten,
		"appends":      stats.Appends,
		"write_errors": stats.WriteErrors,
	}).Info("sink synchronizer stopped")
}

func (s *Synchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Synchronizer) flushWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.flush("shutdown")
			return
		case q, ok := <-s.ch.Quotes:
			if !ok {
				s.flush("shutdown")
				return
			}
			s.enqueue(q)
		case <-ticker.C:
			s.drain()
			s.flush("interval")
		}
	}
}

// enqueue records one quote for the next cycle. Later quotes for the
// same symbol overwrite earlier ones; each sink cell is last-write-
// wins per field.
func (s *Synchronizer) enqueue(q models.CanonicalQuote) {
	s.pending[q.Symbol] = q
}

// drain empties whatever is currently buffered on the quote channel
// without blocking.
func (s *Synchronizer) drain() {
	for {
		select {
		case q, ok := <-s.ch.Quotes:
			if !ok {
				return
			}
			s.enqueue(q)
		default:
			return
		}
	}
}

// flush applies all pending quotes: appends rows for new symbols, one
// span write for the main table, and per-row writes for the caucion
// side table. A write failure skips the cycle; the next one retries
// with fresh data.
func (s *Synchronizer) flush(reason string) {
	if len(s.pending) == 0 {
		return
	}
	log := s.log.WithComponent("sink_sync").WithFields(logger.Fields{
		"batch_id": uuid.New().String(),
		"reason":   reason,
	})

	var missing []string
	for sym, q := range s.pending {
		if q.Classification == models.ClassRepo {
			continue
		}
		if _, ok := s.index[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		if err := s.appendSymbols(missing); err != nil {
			log.WithError(err).Error("failed to append new symbols")
		}
	}

	mainRows := make(map[int][]any)
	caucionRows := make(map[int][]any)
	for sym, q := range s.pending {
		if q.Classification == models.ClassRepo {
			if row, values, ok := s.caucionUpdate(q); ok {
				caucionRows[row] = values
			}
			continue
		}
		row, ok := s.index[sym]
		if !ok {
			continue
		}
		mainRows[row] = q.FieldVector()
	}
	s.pending = make(map[string]models.CanonicalQuote)

	cells := 0
	if len(mainRows) > 0 {
		if err := s.writeSpan(mainRows); err != nil {
			log.WithError(err).Error("span write failed, skipping cycle")
			s.bumpStats(func(st *SyncStats) { st.WriteErrors++ })
		} else {
			cells += len(mainRows) * models.QuoteFieldCount
			s.bumpStats(func(st *SyncStats) { st.RowsWritten += int64(len(mainRows)) })
		}
	}

	for row, values := range caucionRows {
		ref := fmt.Sprintf("%s%d:%s%d", caucionFirstCol, row, caucionLastCol, row)
		if err := s.store.WriteRange(s.cfg.QuotesSheet, ref, [][]any{values}); err != nil {
			log.WithError(err).WithFields(logger.Fields{"row": row}).Error("caucion write failed")
			s.bumpStats(func(st *SyncStats) { st.WriteErrors++ })
			continue
		}
		cells += len(values)
		s.bumpStats(func(st *SyncStats) { st.CaucionRows++ })
	}

	if sv, ok := s.store.(saver); ok {
		if err := sv.Save(); err != nil {
			log.WithError(err).Error("failed to persist workbook")
			s.bumpStats(func(st *SyncStats) { st.WriteErrors++ })
		}
	}

	s.bumpStats(func(st *SyncStats) { st.Cycles++ })
	if cells > 0 {
		logger.IncrementSinkWrite(cells)
	}
	log.WithFields(logger.Fields{
		"rows":      len(mainRows),
		"cauciones": len(caucionRows),
	}).Debug("flush cycle complete")
}

// writeSpan issues one dense write covering [minRow, maxRow]. Rows
// without a pending update are nil so the store leaves them alone.
func (s *Synchronizer) writeSpan(rows map[int][]any) error {
	minRow, maxRow := 0, 0
	for row := range rows {
		if minRow == 0 || row < minRow {
			minRow = row
		}
		if row > maxRow {
			maxRow = row
		}
	}

	block := make([][]any, maxRow-minRow+1)
	for row, values := range rows {
		block[row-minRow] = values
	}

	ref := fmt.Sprintf("%s%d:%s%d", dataFirstCol, minRow, dataLastCol, maxRow)
	return s.store.WriteRange(s.cfg.QuotesSheet, ref, block)
}

// caucionUpdate builds the side-table vector for a repo quote:
// maturity (today plus tenor), rate, traded amount.
func (s *Synchronizer) caucionUpdate(q models.CanonicalQuote) (int, []any, bool) {
	tenor, ok := symbols.CaucionTenor(q.Symbol)
	if !ok {
		return 0, nil, false
	}
	row, ok := caucionRow(tenor)
	if !ok {
		return 0, nil, false
	}

	maturity := s.now().AddDate(0, 0, tenor).Format("2006-01-02")
	rate := q.Last
	amount := q.Last * float64(q.Volume)
	return row, []any{maturity, rate, amount}, true
}

// appendSymbols provisions rows for symbols the sheet has never seen.
func (s *Synchronizer) appendSymbols(missing []string) error {
	sort.Strings(missing)

	startRow := s.lastRow + 1
	rows := make([][]any, len(missing))
	for i, sym := range missing {
		row := make([]any, models.QuoteFieldCount+1)
		row[0] = sym
		for c := 1; c < models.QuoteFieldCount; c++ {
			row[c] = 0
		}
		row[models.QuoteFieldCount] = ""
		rows[i] = row
	}

	if err := s.store.AppendRows(s.cfg.QuotesSheet, startRow, rows); err != nil {
		return err
	}
	for i, sym := range missing {
		s.index[sym] = startRow + i
	}
	s.lastRow = startRow + len(missing) - 1
	s.bumpStats(func(st *SyncStats) { st.Appends += int64(len(missing)) })

	s.log.WithComponent("sink_sync").WithFields(logger.Fields{
		"count":     len(missing),
		"start_row": startRow,
	}).Info("appended new symbols to sheet")
	return nil
}

// ensureHeaders writes the fixed header row when it is missing.
func (s *Synchronizer) ensureHeaders() error {
	ref := fmt.Sprintf("A%d:%s%d", headerRow, dataLastCol, headerRow)
	existing, err := s.store.ReadRange(s.cfg.QuotesSheet, ref)
	if err != nil {
		return err
	}
	if len(existing) > 0 && len(existing[0]) > 0 && existing[0][0] == "symbol" {
		return nil
	}

	row := make([]any, len(sheetHeaders))
	for i, h := range sheetHeaders {
		row[i] = h
	}
	return s.store.WriteRange(s.cfg.QuotesSheet, ref, [][]any{row})
}

// rebuildIndex scans the symbol column and builds the row index.
// Duplicate symbols are an anomaly: the extra rows are deleted from
// bottom to top so earlier row numbers do not drift mid-repair, then
// the scan runs again against the compacted sheet.
func (s *Synchronizer) rebuildIndex() error {
	for pass := 0; pass < 2; pass++ {
		duplicates, err := s.scanIndex()
		if err != nil {
			return err
		}
		if len(duplicates) == 0 {
			return nil
		}

		sort.Sort(sort.Reverse(sort.IntSlice(duplicates)))
		for _, row := range duplicates {
			if err := s.store.RemoveRow(s.cfg.QuotesSheet, row); err != nil {
				return fmt.Errorf("failed to delete duplicate row %d: %w", row, err)
			}
		}
		s.bumpStats(func(st *SyncStats) { st.DuplicatesRepaired += int64(len(duplicates)) })
		s.log.WithComponent("sink_sync").WithFields(logger.Fields{
			"rows": len(duplicates),
		}).Warn("repaired duplicate symbol rows")
	}
	return nil
}

func (s *Synchronizer) scanIndex() ([]int, error) {
	ref := fmt.Sprintf("A%d:A%d", firstDataRow, s.cfg.MaxScanRows)
	rows, err := s.store.ReadRange(s.cfg.QuotesSheet, ref)
	if err != nil {
		return nil, err
	}

	s.index = make(map[string]int)
	s.lastRow = headerRow
	var duplicates []int
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		sym := strings.TrimSpace(row[0])
		if sym == "" {
			continue
		}
		rowNum := firstDataRow + i
		if _, seen := s.index[sym]; seen {
			duplicates = append(duplicates, rowNum)
			continue
		}
		s.index[sym] = rowNum
		if rowNum > s.lastRow {
			s.lastRow = rowNum
		}
	}
	return duplicates, nil
}

func (s *Synchronizer) bumpStats(f func(*SyncStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
