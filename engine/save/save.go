// Package save implements the JSON encoding of item definitions and of
// whole setting dumps.
package save

import (
	"encoding/json"
	"fmt"

	"github.com/nathoo/lorekeep/types"
)

// Version is written into every dump.
const Version = "1"

// Dump is the JSON export format: settings and their root items.
type Dump struct {
	Version  string           `json:"version"`
	Settings []*types.Setting `json:"settings"`
	Items    []*types.Item    `json:"items"`
}

// Encode serializes one item definition, including its nested tree.
func Encode(item *types.Item) ([]byte, error) {
	return json.Marshal(item)
}

// Decode deserializes an item definition and normalizes it so that slices
// are never nil where callers append.
func Decode(data []byte) (*types.Item, error) {
	var item types.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	normalize(&item)
	return &item, nil
}

func normalize(item *types.Item) {
	if item.Groups == nil {
		item.Groups = []string{}
	}
	for i := range item.Attributes {
		for _, v := range item.Attributes[i].Values {
			if v.Nested != nil {
				normalize(v.Nested)
			}
		}
	}
}

// Marshal serializes a dump.
func Marshal(d *Dump) ([]byte, error) {
	if d.Version == "" {
		d.Version = Version
	}
	return json.MarshalIndent(d, "", "  ")
}

// Unmarshal deserializes a dump.
func Unmarshal(data []byte) (*Dump, error) {
	var d Dump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}
	if d.Version != Version {
		return nil, fmt.Errorf("unsupported dump version %q", d.Version)
	}
	for _, it := range d.Items {
		normalize(it)
	}
	return &d, nil
}
