package writer

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"quotesync/logger"
)

// ExcelStore implements Store on top of an xlsx workbook. All methods
// are serialized; excelize files are not safe for concurrent use.
type ExcelStore struct {
	path string
	f    *excelize.File
	log  *logger.Log

	mu      sync.Mutex
	created bool
	dirty   bool
}

// NewExcelStore opens the workbook at path, creating a fresh one when
// it does not exist yet.
func NewExcelStore(path string) (*ExcelStore, error) {
	log := logger.GetLogger()

	f, err := excelize.OpenFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		f = excelize.NewFile()
		log.WithComponent("sink_store").WithFields(logger.Fields{
			"path": path,
		}).Info("workbook not found, creating a new one")
		return &ExcelStore{path: path, f: f, log: log, created: true}, nil
	}

	return &ExcelStore{path: path, f: f, log: log}, nil
}

// EnsureSheet creates the named sheet when it is missing.
func (s *ExcelStore) EnsureSheet(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return nil
	}
	if _, err := s.f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	s.dirty = true
	return nil
}

func parseRef(ref string) (startCol, startRow, endCol, endRow int, err error) {
	parts := strings.SplitN(ref, ":", 2)
	startCol, startRow, err = excelize.CellNameToCoordinates(parts[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad range %q: %w", ref, err)
	}
	if len(parts) == 1 {
		return startCol, startRow, startCol, startRow, nil
	}
	endCol, endRow, err = excelize.CellNameToCoordinates(parts[1])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad range %q: %w", ref, err)
	}
	return startCol, startRow, endCol, endRow, nil
}

func (s *ExcelStore) ReadRange(sheet, ref string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startCol, startRow, endCol, endRow, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, endRow-startRow+1)
	for r := startRow; r <= endRow; r++ {
		row := make([]string, 0, endCol-startCol+1)
		for c := startCol; c <= endCol; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, err
			}
			v, err := s.f.GetCellValue(sheet, cell)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteRange writes the block anchored at the range start. Nil rows
// and nil cells are skipped so untouched sink content survives.
func (s *ExcelStore) WriteRange(sheet, ref string, block [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	startCol, startRow, _, _, err := parseRef(ref)
	if err != nil {
		return err
	}

	for ri, row := range block {
		if row == nil {
			continue
		}
		for ci, val := range row {
			if val == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(startCol+ci, startRow+ri)
			if err != nil {
				return err
			}
			if err := s.f.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
			}
		}
	}
	s.dirty = true
	return nil
}

func (s *ExcelStore) AppendRows(sheet string, startRow int, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ri, row := range rows {
		for ci, val := range row {
			if val == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(ci+1, startRow+ri)
			if err != nil {
				return err
			}
			if err := s.f.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to append %s!%s: %w", sheet, cell, err)
			}
		}
	}
	s.dirty = true
	return nil
}

func (s *ExcelStore) RemoveRow(sheet string, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.f.RemoveRow(sheet, row); err != nil {
		return fmt.Errorf("failed to remove row %d: %w", row, err)
	}
	s.dirty = true
	return nil
}

// Save persists pending changes to disk. A store opened against a
// missing file is written out with SaveAs on first save.
func (s *ExcelStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	var err error
	if s.created {
		err = s.f.SaveAs(s.path)
		if err == nil {
			s.created = false
		}
	} else {
		err = s.f.Save()
	}
	if err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *ExcelStore) Close() error {
	if err := s.Save(); err != nil {
		s.log.WithComponent("sink_store").WithError(err).Error("failed to save workbook on close")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
