package storage

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// CursorVersion is the current cursor format version.
const CursorVersion = 1

// ErrInvalidCursor indicates the cursor could not be decoded.
var ErrInvalidCursor = errors.New("storage: invalid cursor format")

// Cursor is the serialized change-feed position, versioned for future
// migrations. The token's meaning belongs to the provider.
type Cursor struct {
	Version int    `json:"v"`
	Token   string `json:"token"`
}

// NewCursor creates an empty cursor at the current version.
func NewCursor() *Cursor {
	return &Cursor{Version: CursorVersion}
}

// Encode serialises the cursor to a base64 string for storage.
func (c *Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor deserializes a cursor from a base64 string. An empty
// input yields an empty cursor, the initial-sync position.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return NewCursor(), nil
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if cursor.Version > CursorVersion {
		return nil, ErrInvalidCursor
	}
	return &cursor, nil
}

// IsEmpty reports whether the cursor has no sync position yet.
func (c *Cursor) IsEmpty() bool {
	return c.Token == ""
}
