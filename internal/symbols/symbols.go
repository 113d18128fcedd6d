package symbols

import (
	"strconv"
	"strings"
)

// Provider symbols are dash-joined segments, e.g.
// "MERV - XMEV - YPFD - 24hs" for a security settling in 24 hours and
// "MERV - XMEV - PESOS - 3D" for a 3-day caucion.
const segmentSeparator = " - "

// CaucionTenor extracts the tenor in days from a caucion symbol.
// It returns false for anything that is not a caucion.
func CaucionTenor(symbol string) (int, bool) {
	if !strings.Contains(symbol, "PESOS") {
		return 0, false
	}
	parts := strings.Split(symbol, segmentSeparator)
	last := parts[len(parts)-1]
	if !strings.HasSuffix(last, "D") {
		return 0, false
	}
	days, err := strconv.Atoi(strings.TrimSuffix(last, "D"))
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

// IsCaucion reports whether the symbol names a caucion (repo) contract.
// Cauciones are recognized by their tenor suffix; the provider listing
// does not classify them.
func IsCaucion(symbol string) bool {
	_, ok := CaucionTenor(symbol)
	return ok
}

// Ticker returns the ticker segment of a provider symbol, e.g.
// "MERV - XMEV - YPFD - 24hs" -> "YPFD". Unrecognized formats come
// back unchanged.
func Ticker(symbol string) string {
	parts := strings.Split(symbol, segmentSeparator)
	if len(parts) >= 3 {
		return parts[2]
	}
	return symbol
}

// ToProvider expands a watchlist entry into a full provider symbol:
// "YPFD - 24hs" -> "MERV - XMEV - YPFD - 24hs". A " - spot" suffix is
// the legacy spelling of immediate settlement and becomes " - CI".
func ToProvider(raw string) string {
	symbol := strings.TrimSpace(raw)
	if symbol == "" {
		return symbol
	}
	if strings.HasPrefix(symbol, "MERV"+segmentSeparator) {
		return symbol
	}
	if strings.HasSuffix(symbol, segmentSeparator+"spot") {
		symbol = strings.TrimSuffix(symbol, segmentSeparator+"spot") + segmentSeparator + "CI"
	}
	return "MERV" + segmentSeparator + "XMEV" + segmentSeparator + symbol
}

// Display renders a short log-friendly form of a provider symbol:
// "MERV - XMEV - YPFD - 24hs" -> "YPFD-24h".
func Display(symbol string) string {
	parts := strings.Split(symbol, segmentSeparator)
	if len(parts) < 4 {
		return symbol
	}
	settlement := strings.TrimSuffix(parts[3], "s")
	return parts[2] + "-" + settlement
}
