package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"dsr.gov.ph/registry/internal/domain"
)

// Format is a legacy file format.
type Format string

const (
	FormatCSV  Format = "CSV"
	FormatJSON Format = "JSON"
	FormatXML  Format = "XML"
	FormatXLSX Format = "XLSX"
)

// Text encodings reported by FileMetadata.
const (
	EncodingUTF8    = "UTF-8"
	EncodingUTF8BOM = "UTF-8-BOM"
	EncodingUTF16   = "UTF-16"
	EncodingBinary  = "BINARY"
)

const sampleSize = 64 << 10

// ErrFileNotFound is returned when a legacy file path does not exist.
var ErrFileNotFound = errors.New("file not found")

var allFormats = []Format{FormatCSV, FormatJSON, FormatXML, FormatXLSX}

// Registry lists the formats each source system may upload.
type Registry map[string][]Format

// DefaultRegistry is the source → format table used in production.
func DefaultRegistry() Registry {
	return Registry{
		domain.SourceListahanan:  {FormatCSV, FormatXLSX},
		domain.SourceIRegistro:   {FormatXML, FormatJSON},
		domain.SourceManualEntry: allFormats,
	}
}

// Formats returns the formats allowed for source; unknown sources accept
// every format.
func (r Registry) Formats(source string) []Format {
	if f, ok := r[strings.ToUpper(strings.TrimSpace(source))]; ok {
		return f
	}
	return allFormats
}

// Supports reports whether source may upload format f.
func (r Registry) Supports(source string, f Format) bool {
	return slices.Contains(r.Formats(source), f)
}

// FormatOf derives the format from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".json":
		return FormatJSON, true
	case ".xml":
		return FormatXML, true
	case ".xlsx":
		return FormatXLSX, true
	}
	return "", false
}

// Metadata describes a legacy file before parsing.
type Metadata struct {
	Valid           bool   `json:"valid"`
	FileSizeBytes   int64  `json:"fileSizeBytes"`
	Format          Format `json:"fileFormat,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
	RecordCountHint int    `json:"estimatedRecordCount"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

// textReader decodes UTF-16 and strips a UTF-8 byte order mark so the
// text strategies always see plain UTF-8.
func textReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func detectEncoding(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return EncodingUTF8BOM
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}), bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return EncodingUTF16
	}
	return EncodingUTF8
}

// sniff checks that the first bytes of a file look like format f.
func sniff(f Format, r io.Reader) bool {
	if f == FormatXLSX {
		head := make([]byte, 4)
		if _, err := io.ReadFull(r, head); err != nil {
			return false
		}
		return bytes.Equal(head, []byte("PK\x03\x04"))
	}

	br := bufio.NewReader(io.LimitReader(textReader(r), 4096))
	switch f {
	case FormatCSV:
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false
		}
		line = strings.TrimSpace(line)
		return line != "" && !strings.ContainsRune(line, 0)
	case FormatJSON, FormatXML:
		for {
			c, _, err := br.ReadRune()
			if err != nil {
				return false
			}
			if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
				continue
			}
			if f == FormatJSON {
				return c == '[' || c == '{'
			}
			return c == '<'
		}
	}
	return false
}

// estimateRecords extrapolates the record count from the newline density
// of a sample. The count is exact when the sample is the whole file.
func estimateRecords(f Format, sample []byte, size int64) int {
	if f == FormatXLSX || len(sample) == 0 {
		return 0
	}
	var n int
	if int64(len(sample)) >= size {
		for _, line := range bytes.Split(sample, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) > 0 {
				n++
			}
		}
	} else {
		lines := bytes.Count(sample, []byte{'\n'})
		if lines == 0 {
			n = int(size / 100)
		} else {
			avg := len(sample) / lines
			n = int(size / int64(avg))
		}
	}
	if f == FormatCSV {
		n--
	}
	return max(n, 0)
}

func statFile(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	return info, nil
}
