package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"dsr.gov.ph/registry/internal/domain"
)

// readCSV streams a header-first CSV file. Rows with a different field
// count than the header are still mapped; missing cells are treated as
// blank and extra cells are ignored.
func readCSV(r io.Reader, emit rowFunc) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var header []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			if header == nil {
				return errors.New("csv file has no header row")
			}
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return fmt.Errorf("read csv: %w", err)
			}
			if header == nil {
				return fmt.Errorf("read csv header: %w", err)
			}
			if !emit(rawRow{line: pe.StartLine, err: pe.Err}) {
				return nil
			}
			continue
		}

		if header == nil {
			header = make([]string, len(rec))
			for i, h := range rec {
				header[i] = normalizeHeader(h)
			}
			continue
		}

		line, _ := cr.FieldPos(0)
		if blankRecord(rec) {
			continue
		}
		fields := make([]domain.Field, 0, len(header))
		for i, h := range header {
			if h == "" || i >= len(rec) {
				continue
			}
			fields = append(fields, domain.Field{Name: h, Value: rec[i]})
		}
		if !emit(rawRow{line: line, fields: fields}) {
			return nil
		}
	}
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
