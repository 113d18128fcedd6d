package writer

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"quotesync/config"
	"quotesync/models"
)

type fakeWrite struct {
	ref   string
	block [][]any
}

type fakeAppend struct {
	startRow int
	rows     [][]any
}

type fakeStore struct {
	header  []string
	colA    map[int]string
	cols    map[string][]string
	writes  []fakeWrite
	appends []fakeAppend
	removed []int

	failWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		header: []string{"symbol"},
		colA:   make(map[int]string),
		cols:   make(map[string][]string),
	}
}

func splitCell(cell string) (string, int) {
	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		i++
	}
	row, _ := strconv.Atoi(cell[i:])
	return cell[:i], row
}

func (f *fakeStore) ReadRange(sheet, ref string) ([][]string, error) {
	parts := strings.SplitN(ref, ":", 2)
	startCol, startRow := splitCell(parts[0])
	_, endRow := splitCell(parts[1])

	if sheet == "tickers" {
		values := f.cols[startCol]
		out := make([][]string, endRow-startRow+1)
		for i := range out {
			if i < len(values) {
				out[i] = []string{values[i]}
			} else {
				out[i] = []string{""}
			}
		}
		return out, nil
	}

	if startRow == 1 {
		return [][]string{f.header}, nil
	}
	out := make([][]string, 0, endRow-startRow+1)
	for r := startRow; r <= endRow; r++ {
		out = append(out, []string{f.colA[r]})
	}
	return out, nil
}

func (f *fakeStore) WriteRange(sheet, ref string, block [][]any) error {
	if f.failWrites {
		return errors.New("write failed")
	}
	f.writes = append(f.writes, fakeWrite{ref: ref, block: block})
	return nil
}

func (f *fakeStore) AppendRows(sheet string, startRow int, rows [][]any) error {
	f.appends = append(f.appends, fakeAppend{startRow: startRow, rows: rows})
	for i, row := range rows {
		if sym, ok := row[0].(string); ok {
			f.colA[startRow+i] = sym
		}
	}
	return nil
}

func (f *fakeStore) RemoveRow(sheet string, row int) error {
	f.removed = append(f.removed, row)
	max := 0
	for r := range f.colA {
		if r > max {
			max = r
		}
	}
	for r := row; r < max; r++ {
		f.colA[r] = f.colA[r+1]
	}
	delete(f.colA, max)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func testSyncConfig() config.SinkConfig {
	return config.SinkConfig{
		Workbook:      "test.xlsx",
		QuotesSheet:   "homebroker",
		TickersSheet:  "tickers",
		FlushInterval: 2 * time.Second,
		MaxScanRows:   50,
	}
}

func securityQuote(symbol string, last float64) models.CanonicalQuote {
	return models.CanonicalQuote{
		Symbol:         symbol,
		Classification: models.ClassSecurity,
		Last:           last,
		Timestamp:      time.Date(2025, 9, 27, 12, 0, 0, 0, time.UTC),
	}
}

func TestFlushSingleSpanWrite(t *testing.T) {
	store := newFakeStore()
	store.colA[3] = "AAA"
	store.colA[4] = "BBB"
	store.colA[7] = "CCC"

	s := NewSynchronizer(testSyncConfig(), store, nil)
	if err := s.rebuildIndex(); err != nil {
		t.Fatalf("rebuildIndex: %v", err)
	}

	s.enqueue(securityQuote("AAA", 1))
	s.enqueue(securityQuote("BBB", 2))
	s.enqueue(securityQuote("CCC", 3))
	s.flush("test")

	if len(store.writes) != 1 {
		t.Fatalf("expected one span write, got %d", len(store.writes))
	}
	w := store.writes[0]
	if w.ref != "B3:O7" {
		t.Fatalf("unexpected span: %s", w.ref)
	}
	if len(w.block) != 5 {
		t.Fatalf("block should cover 5 rows, got %d", len(w.block))
	}
	if w.block[2] != nil || w.block[3] != nil {
		t.Fatalf("gap rows must be nil sentinels")
	}
	if w.block[0] == nil || w.block[4] == nil {
		t.Fatalf("pending rows missing from block")
	}
}

func TestFlushEmptyIsNoOp(t *testing.T) {
	store := newFakeStore()
	s := NewSynchronizer(testSyncConfig(), store, nil)
	s.flush("test")
	if len(store.writes) != 0 {
		t.Fatalf("empty batch must not write")
	}
	if s.Stats().Cycles != 0 {
		t.Fatalf("empty batch must not count as a cycle")
	}
}

func TestDuplicateRepairBottomUp(t *testing.T) {
	store := newFakeStore()
	store.colA[2] = "AAA"
	store.colA[3] = "BBB"
	store.colA[5] = "AAA"
	store.colA[9] = "BBB"

	s := NewSynchronizer(testSyncConfig(), store, nil)
	if err := s.rebuildIndex(); err != nil {
		t.Fatalf("rebuildIndex: %v", err)
	}

	if len(store.removed) != 2 || store.removed[0] != 9 || store.removed[1] != 5 {
		t.Fatalf("duplicates must be removed bottom-up, got %v", store.removed)
	}
	if row := s.index["AAA"]; row != 2 {
		t.Fatalf("first occurrence must win, AAA at row %d", row)
	}
	if got := s.Stats().DuplicatesRepaired; got != 2 {
		t.Fatalf("DuplicatesRepaired = %d", got)
	}
}

func TestAutoAppendNewSymbols(t *testing.T) {
	store := newFakeStore()
	store.colA[2] = "AAA"

	s := NewSynchronizer(testSyncConfig(), store, nil)
	if err := s.rebuildIndex(); err != nil {
		t.Fatalf("rebuildIndex: %v", err)
	}

	s.enqueue(securityQuote("NEW", 5))
	s.flush("test")

	if len(store.appends) != 1 {
		t.Fatalf("expected one append, got %d", len(store.appends))
	}
	ap := store.appends[0]
	if ap.startRow != 3 || ap.rows[0][0] != "NEW" {
		t.Fatalf("unexpected append: %+v", ap)
	}
	if row := s.index["NEW"]; row != 3 {
		t.Fatalf("index not extended, NEW at %d", row)
	}
	if len(store.writes) != 1 || store.writes[0].ref != "B3:O3" {
		t.Fatalf("appended symbol must receive its update: %+v", store.writes)
	}
}

func TestCaucionSideTable(t *testing.T) {
	store := newFakeStore()
	s := NewSynchronizer(testSyncConfig(), store, nil)
	base := time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.enqueue(models.CanonicalQuote{
		Symbol:         "MERV - XMEV - PESOS - 5D",
		Classification: models.ClassRepo,
		Last:           0.35,
		Volume:         1000000,
	})
	s.flush("test")

	if len(store.writes) != 1 {
		t.Fatalf("expected one caucion write, got %d", len(store.writes))
	}
	w := store.writes[0]
	if w.ref != "S6:U6" {
		t.Fatalf("5D tenor should land on row 6, got %s", w.ref)
	}
	values := w.block[0]
	if values[0] != "2025-10-02" {
		t.Fatalf("maturity should be today+5, got %v", values[0])
	}
	if values[1] != 0.35 {
		t.Fatalf("rate should be the last price, got %v", values[1])
	}
	if values[2] != 0.35*1000000 {
		t.Fatalf("amount should be last*volume, got %v", values[2])
	}
}

func TestCaucionRowMapping(t *testing.T) {
	tests := []struct {
		tenor int
		row   int
		ok    bool
	}{
		{1, 2, true},
		{14, 15, true},
		{33, 34, true},
		{60, 34, true},
		{0, 0, false},
		{61, 0, false},
	}
	for _, tt := range tests {
		row, ok := caucionRow(tt.tenor)
		if row != tt.row || ok != tt.ok {
			t.Errorf("caucionRow(%d)=(%d,%v) want (%d,%v)", tt.tenor, row, ok, tt.row, tt.ok)
		}
	}
}

func TestWriteFailureSkipsCycle(t *testing.T) {
	store := newFakeStore()
	store.colA[2] = "AAA"
	store.failWrites = true

	s := NewSynchronizer(testSyncConfig(), store, nil)
	if err := s.rebuildIndex(); err != nil {
		t.Fatalf("rebuildIndex: %v", err)
	}

	s.enqueue(securityQuote("AAA", 1))
	s.flush("test")

	if got := s.Stats().WriteErrors; got != 1 {
		t.Fatalf("WriteErrors = %d", got)
	}
	if len(s.pending) != 0 {
		t.Fatalf("pending must be cleared; next cycle uses fresh data")
	}
}

func TestEnsureHeaders(t *testing.T) {
	store := newFakeStore()
	store.header = []string{""}

	s := NewSynchronizer(testSyncConfig(), store, nil)
	if err := s.ensureHeaders(); err != nil {
		t.Fatalf("ensureHeaders: %v", err)
	}
	if len(store.writes) != 1 || store.writes[0].ref != "A1:O1" {
		t.Fatalf("header row not written: %+v", store.writes)
	}
	if store.writes[0].block[0][0] != "symbol" {
		t.Fatalf("first header cell must be symbol")
	}

	store2 := newFakeStore()
	s2 := NewSynchronizer(testSyncConfig(), store2, nil)
	if err := s2.ensureHeaders(); err != nil {
		t.Fatalf("ensureHeaders: %v", err)
	}
	if len(store2.writes) != 0 {
		t.Fatalf("existing headers must not be rewritten")
	}
}

func TestLoadWatchlist(t *testing.T) {
	store := newFakeStore()
	store.cols["A"] = []string{"GFGC40713D - 24hs"}
	store.cols["C"] = []string{"YPFD - 24hs", "GGAL - spot", "YPFD - 24hs"}

	list, err := LoadWatchlist(store, "tickers")
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}

	want := map[string]bool{
		"MERV - XMEV - GFGC40713D - 24hs": true,
		"MERV - XMEV - YPFD - 24hs":       true,
		"MERV - XMEV - GGAL - CI":         true,
		"MERV - XMEV - PESOS - 3D":        true,
	}
	got := map[string]bool{}
	for _, sym := range list {
		if got[sym] {
			t.Fatalf("duplicate symbol in watchlist: %s", sym)
		}
		got[sym] = true
	}
	for sym := range want {
		if !got[sym] {
			t.Fatalf("missing %s in %v", sym, list)
		}
	}
	if len(list) != 3+len(defaultCauciones) {
		t.Fatalf("unexpected watchlist size %d: %v", len(list), list)
	}
}
