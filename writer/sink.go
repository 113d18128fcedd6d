package writer

// Store is the tabular sink behind the synchronizer. The three range
// primitives are everything the sync logic needs; no formatting or
// formulas.
//
// WriteRange blocks are dense row-major matrices anchored at the
// range's top-left cell. A nil row, or a nil cell inside a row, means
// "leave the existing sink content alone".
type Store interface {
	ReadRange(sheet, ref string) ([][]string, error)
	WriteRange(sheet, ref string, block [][]any) error
	AppendRows(sheet string, startRow int, rows [][]any) error
	RemoveRow(sheet string, row int) error
	Close() error
}

// Main table layout: column A holds the symbol, row 1 the header, and
// columns B..O the fourteen quote fields in FieldVector order.
const (
	headerRow    = 1
	firstDataRow = 2
	dataFirstCol = "B"
	dataLastCol  = "O"
)

var sheetHeaders = []string{
	"symbol", "bid_size", "bid", "ask", "ask_size", "last", "change",
	"open", "high", "low", "previous_close", "turnover", "volume",
	"operations", "datetime",
}

// Caucion side table: columns S (maturity), T (rate), U (amount),
// one fixed row per tenor.
const (
	caucionFirstCol = "S"
	caucionLastCol  = "U"
	caucionMaxTenor = 60
)

// caucionRow maps a tenor in days to its side-table row. Row 2 is 1D,
// row 3 is 2D and so on; the 60 day tenor sits apart at row 34.
func caucionRow(tenorDays int) (int, bool) {
	if tenorDays < 1 || tenorDays > caucionMaxTenor {
		return 0, false
	}
	if tenorDays == caucionMaxTenor {
		return 34, true
	}
	return tenorDays + 1, true
}
