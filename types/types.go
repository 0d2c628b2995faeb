// Package types defines the shared data structures for the lorekeep engine.
// This package contains only type definitions, no logic, no methods.
package types

// RootNestedID addresses the root item itself in (rootID, nestedID) pairs.
const RootNestedID int64 = -1

// Built-in scalar value types. Metadata.TypeID is either one of these or the
// id of a stored item whose descendants are acceptable values.
const (
	TypeNothing  int64 = -1
	TypeString   int64 = -2
	TypePositive int64 = -3
	TypeInt      int64 = -4
	TypeDecimal  int64 = -5
	TypeBoolean  int64 = -6
	TypeType     int64 = -7
)

// ItemName is the identity and display label of an item.
type ItemName struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Ref is an edge to another stored item. Only the id is stored; the target
// is looked up in the loaded graph and may be absent (dangling).
type Ref struct {
	ID int64 `json:"id"`
}

// Metadata declares one attribute of an item.
type Metadata struct {
	AttributeName  string `json:"attributeName"`
	TypeID         int64  `json:"typeId"`
	IsSingle       bool   `json:"isSingle,omitempty"`
	AllowCreate    bool   `json:"allowCreate,omitempty"`
	AllowReference bool   `json:"allowReference,omitempty"`
	IsRequired     bool   `json:"isRequired,omitempty"`
}

// Value is exactly one of a primitive scalar, a reference to a stored item,
// or an inline nested item.
type Value struct {
	Primitive *string `json:"primitive,omitempty"`
	Terminal  *Ref    `json:"terminal,omitempty"`
	Nested    *Item   `json:"nested,omitempty"`
}

// Attribute holds an item's own stored values for one attribute name.
type Attribute struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// Item is a node in the prototype graph. Root items are stored on their own;
// nested items live inside a root's attribute tree and are addressed by
// NestedID, which is unique only within that root.
type Item struct {
	ID                int64       `json:"id"`
	NestedID          int64       `json:"nestedId"`
	Name              string      `json:"name,omitempty"`
	Path              string      `json:"path,omitempty"`
	SettingID         int64       `json:"settingId,omitempty"`
	Description       string      `json:"description,omitempty"`
	Groups            []string    `json:"groups,omitempty"`
	Rank              int         `json:"rank,omitempty"`
	Extends           []Ref       `json:"extends,omitempty"`
	IsType            bool        `json:"isType,omitempty"`
	IsFinal           bool        `json:"isFinal,omitempty"`
	Metadata          []Metadata  `json:"metadata,omitempty"`
	AllowedExtensions []ItemName  `json:"allowedExtensions,omitempty"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	Formula           string      `json:"formula,omitempty"`
	NextNestedID      int64       `json:"nextNestedId,omitempty"`
}

// Setting is a collection of items. Dependencies make other settings'
// items visible to type queries.
type Setting struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Dependencies []int64 `json:"dependencies,omitempty"`
}

// Effect is a single atomic mutation of a root item's definition.
type Effect struct {
	Type     string
	NestedID int64
	Params   map[string]any
}

// Event is emitted after a mutation has been persisted.
type Event struct {
	Type string
	Data map[string]any
}
