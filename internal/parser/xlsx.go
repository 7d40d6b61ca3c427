package parser

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// readXLSX streams the first worksheet. The first non-blank row is the
// header.
func readXLSX(path string, emit rowFunc) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("Failed to close workbook", zap.String("path", path), zap.Error(cerr))
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	var header []string
	for line := 1; rows.Next(); line++ {
		cols, err := rows.Columns()
		if err != nil {
			if header == nil {
				return fmt.Errorf("read header row: %w", err)
			}
			if !emit(rawRow{line: line, err: err}) {
				return nil
			}
			continue
		}
		if blankRecord(cols) {
			continue
		}
		if header == nil {
			header = make([]string, len(cols))
			for i, h := range cols {
				header[i] = normalizeHeader(h)
			}
			continue
		}
		fields := make([]domain.Field, 0, len(header))
		for i, h := range header {
			if h == "" || i >= len(cols) {
				continue
			}
			fields = append(fields, domain.Field{Name: h, Value: cols[i]})
		}
		if !emit(rawRow{line: line, fields: fields}) {
			return nil
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("iterate sheet %q: %w", sheets[0], err)
	}
	if header == nil {
		return errors.New("worksheet has no header row")
	}
	return nil
}
