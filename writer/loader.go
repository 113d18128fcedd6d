package writer

import (
	"fmt"
	"strings"

	"quotesync/internal/symbols"
	"quotesync/logger"
)

// watchlistColumns maps each instrument category to the column band
// holding its tickers on the tickers sheet.
var watchlistColumns = []struct {
	category string
	column   string
}{
	{"options", "A"},
	{"acciones", "C"},
	{"bonos", "E"},
	{"cedears", "G"},
	{"letras", "I"},
	{"ons", "K"},
	{"panel_general", "M"},
}

const watchlistMaxRows = 500

// defaultCauciones is the fixed set of caucion tenors tracked in the
// side table. The provider does not list every tenor; 1D, 2D and 7-9D
// are absent from the API.
var defaultCauciones = []string{
	"MERV - XMEV - PESOS - 3D",
	"MERV - XMEV - PESOS - 4D",
	"MERV - XMEV - PESOS - 5D",
	"MERV - XMEV - PESOS - 6D",
	"MERV - XMEV - PESOS - 10D",
	"MERV - XMEV - PESOS - 11D",
	"MERV - XMEV - PESOS - 12D",
	"MERV - XMEV - PESOS - 13D",
	"MERV - XMEV - PESOS - 14D",
}

// LoadWatchlist reads the per-category ticker columns from the
// tickers sheet, expands every entry to a full provider symbol and
// adds the fixed caucion set. An empty or missing category is fine;
// the result preserves category order and drops duplicates.
func LoadWatchlist(store Store, sheet string) ([]string, error) {
	log := logger.GetLogger().WithComponent("sink_loader")

	seen := make(map[string]struct{})
	var watchlist []string
	add := func(symbol string) {
		if symbol == "" {
			return
		}
		if _, dup := seen[symbol]; dup {
			return
		}
		seen[symbol] = struct{}{}
		watchlist = append(watchlist, symbol)
	}

	for _, band := range watchlistColumns {
		ref := fmt.Sprintf("%s2:%s%d", band.column, band.column, watchlistMaxRows)
		rows, err := store.ReadRange(sheet, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s column: %w", band.category, err)
		}

		count := 0
		for _, row := range rows {
			if len(row) == 0 {
				continue
			}
			raw := strings.TrimSpace(row[0])
			if raw == "" {
				continue
			}
			add(symbols.ToProvider(raw))
			count++
		}
		if count > 0 {
			log.WithFields(logger.Fields{
				"category": band.category,
				"count":    count,
			}).Info("loaded watchlist category")
		}
	}

	for _, symbol := range defaultCauciones {
		add(symbol)
	}

	if len(watchlist) == len(defaultCauciones) {
		log.Warn("tickers sheet yielded no symbols beyond the caucion set")
	}
	return watchlist, nil
}
