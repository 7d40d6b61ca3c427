package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"dsr.gov.ph/registry/internal/domain"
)

// readJSON streams either a top-level array of objects or an object whose
// "records" member is such an array. Array elements that are not objects
// are row errors.
func readJSON(r io.Reader, emit rowFunc) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	switch tok {
	case json.Delim('['):
		return readJSONArray(dec, emit)
	case json.Delim('{'):
		for dec.More() {
			key, err := dec.Token()
			if err != nil {
				return fmt.Errorf("read json: %w", err)
			}
			if key != "records" {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return fmt.Errorf("read json member %v: %w", key, err)
				}
				continue
			}
			tok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("read json records: %w", err)
			}
			if tok != json.Delim('[') {
				return errors.New(`json "records" member must be an array`)
			}
			return readJSONArray(dec, emit)
		}
		return errors.New(`json object has no "records" array`)
	}
	return fmt.Errorf("json document must be an array or object, got %v", tok)
}

func readJSONArray(dec *json.Decoder, emit rowFunc) error {
	for n := 1; dec.More(); n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read json element %d: %w", n, err)
		}
		var p domain.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			if !emit(rawRow{line: n, err: err}) {
				return nil
			}
			continue
		}
		if p == nil {
			continue
		}
		if !emit(rawRow{line: n, fields: p}) {
			return nil
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	return nil
}
