package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxJSONDepth bounds the nesting of request bodies. API bodies
// are flat objects with at most a tag list inside.
const DefaultMaxJSONDepth = 16

// JSON errors.
var (
	ErrJSONTooDeep = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON = errors.New("invalid JSON")
)

// CheckJSONDepth fails when data nests objects or arrays deeper than
// limit. limit <= 0 means DefaultMaxJSONDepth.
func CheckJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			if depth++; depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

// DecodeStrict decodes exactly one JSON value from data into v. Unknown
// fields, trailing data and excessive nesting are rejected.
func DecodeStrict(data []byte, v any, maxDepth int) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidJSON)
	}
	if err := CheckJSONDepth(data, maxDepth); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return nil
}
