package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"dsr.gov.ph/registry/internal/domain"
)

// recordElements are the element names treated as one record.
var recordElements = map[string]bool{
	"record":           true,
	"row":              true,
	"household":        true,
	"individual":       true,
	"economic_profile": true,
}

// readXML streams record elements. Attributes of the record element and
// its leaf descendants become fields; nesting below the record is
// flattened to the leaf element name. A record repeating a field name is a
// row error.
func readXML(r io.Reader, emit rowFunc) error {
	dec := xml.NewDecoder(r)
	// The reader is already UTF-8; ignore the declared encoding.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	type open struct {
		name     string
		text     strings.Builder
		hasChild bool
	}

	var (
		n       int
		inside  bool
		stack   []*open
		fields  []domain.Field
		rowErr  error
		rowLine int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if inside {
				return errors.New("xml ended inside a record")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if !inside {
				if !recordElements[strings.ToLower(name)] {
					continue
				}
				inside = true
				n++
				rowLine = n
				rowErr = nil
				fields = fields[:0:0]
				stack = stack[:0]
				for _, a := range t.Attr {
					fields = append(fields, domain.Field{Name: a.Name.Local, Value: a.Value})
				}
				stack = append(stack, &open{name: name})
				continue
			}
			stack[len(stack)-1].hasChild = true
			stack = append(stack, &open{name: name})

		case xml.CharData:
			if inside && len(stack) > 1 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if !inside {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				if !top.hasChild {
					if hasField(fields, top.name) && rowErr == nil {
						rowErr = fmt.Errorf("record %d repeats field <%s>", rowLine, top.name)
					}
					fields = append(fields, domain.Field{Name: top.name, Value: top.text.String()})
				}
				continue
			}
			inside = false
			row := rawRow{line: rowLine, fields: fields}
			if rowErr != nil {
				row = rawRow{line: rowLine, err: rowErr}
			}
			if !emit(row) {
				return nil
			}
		}
	}
}

func hasField(fields []domain.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
