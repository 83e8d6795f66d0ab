package storage

import (
	"encoding/json"
	"fmt"
)

// Document is a stored JSON record. Version is the optimistic concurrency
// counter checked by PutCAS; zero means "not yet stored".
type Document struct {
	Data    json.RawMessage `json:"data"`
	Version uint64          `json:"version,omitempty"`
}

// Encode marshals v into a Document carrying the given version.
func Encode(v any, version uint64) (*Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return &Document{Data: data, Version: version}, nil
}

// Decode unmarshals the document payload into v.
func (d *Document) Decode(v any) error {
	if d == nil || len(d.Data) == 0 {
		return fmt.Errorf("decoding document: empty payload")
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{
		Data:    append(json.RawMessage(nil), d.Data...),
		Version: d.Version,
	}
}
