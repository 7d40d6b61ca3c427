package parser

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"dsr.gov.ph/registry/internal/domain"
)

//go:embed mappings.yaml
var defaultMappings []byte

// Mappings translates legacy column headers into canonical payload field
// names: source system → data type → lowercased header → field.
type Mappings map[string]map[domain.DataType]map[string]string

// LoadMappings decodes a YAML mapping document. Header keys are normalized
// to lower case.
func LoadMappings(data []byte) (Mappings, error) {
	var raw map[string]map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode header mappings: %w", err)
	}
	m := make(Mappings, len(raw))
	for source, types := range raw {
		byType := make(map[domain.DataType]map[string]string, len(types))
		for dt, headers := range types {
			norm := make(map[string]string, len(headers))
			for h, field := range headers {
				norm[normalizeHeader(h)] = field
			}
			byType[domain.ParseDataType(dt)] = norm
		}
		m[strings.ToUpper(source)] = byType
	}
	return m, nil
}

// DefaultMappings returns the embedded Listahanan and i-Registro mappings.
func DefaultMappings() Mappings {
	m, err := LoadMappings(defaultMappings)
	if err != nil {
		panic(err)
	}
	return m
}

// Field resolves the canonical name for a header.
func (m Mappings) Field(source string, dataType domain.DataType, header string) string {
	key := normalizeHeader(header)
	if field, ok := m[strings.ToUpper(source)][dataType][key]; ok {
		return field
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	if strings.ContainsAny(trimmed, "_- ") {
		return snakeToCamel(key)
	}
	return trimmed
}

// Payload builds an ordered payload from raw header/value pairs. Blank
// string values are dropped.
func (m Mappings) Payload(source string, dataType domain.DataType, row []domain.Field) domain.Payload {
	p := make(domain.Payload, 0, len(row))
	for _, f := range row {
		if s, ok := f.Value.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			f.Value = s
		} else if f.Value == nil {
			continue
		}
		name := m.Field(source, dataType, f.Name)
		if name == "" {
			continue
		}
		p.Set(name, f.Value)
	}
	return p
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

func snakeToCamel(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	var b strings.Builder
	for i, p := range parts {
		if i == 0 {
			b.WriteString(p)
			continue
		}
		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	return b.String()
}
