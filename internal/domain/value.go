// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package domain holds the types shared across the connection manager,
// transaction coordinator, change observer and migration runner: they
// describe data, not behavior, so importing this package never creates
// a cycle with the components that implement the behavior.
package domain

import (
	"encoding/json"
	"fmt"
)

// ValueKind identifies the SQLite storage class carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is a typed column value as captured from a row-level change.
// It mirrors SQLite's dynamic type system (NULL, INTEGER, REAL, TEXT,
// BLOB) instead of collapsing everything into interface{}, so callers
// on the other side of an RPC boundary can switch on Kind without type
// assertions.
type Value struct {
	Kind    ValueKind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

func Null() Value                { return Value{Kind: KindNull} }
func Integer(v int64) Value      { return Value{Kind: KindInteger, Integer: v} }
func Real(v float64) Value       { return Value{Kind: KindReal, Real: v} }
func Text(v string) Value        { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value        { return Value{Kind: KindBlob, Blob: v} }

// ValueFromAny converts a database/sql-compatible driver value (as
// returned by sqlite3.SQLitePreUpdateData.Old/New, or a scanned row
// column) into a Value. Unrecognized types fall back to their string
// representation rather than dropping the column.
func ValueFromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(t)
	case int:
		return Integer(int64(t))
	case float64:
		return Real(t)
	case bool:
		if t {
			return Integer(1)
		}
		return Integer(0)
	case string:
		return Text(t)
	case []byte:
		return Blob(t)
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}

// Any returns the Go value matching Kind, suitable for binding as a
// database/sql driver argument.
func (v Value) Any() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.Integer
	case KindReal:
		return v.Real
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// MarshalJSON renders a Value as its bare Go-native JSON form (a
// number, string, base64 blob, or null) rather than exposing the Kind
// discriminator — the operator CLI and any JSON-facing row dump care
// about the value, not the envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON is the inverse of MarshalJSON for everything except
// blobs: JSON has no type distinct from string, so a blob round-tripped
// through JSON decodes as Text, not Blob. There is likewise no wire
// distinction between a JSON number meant as Integer versus Real, so
// whole numbers decode as Integer.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = Text(t)
	case bool:
		if t {
			*v = Integer(1)
		} else {
			*v = Integer(0)
		}
	case float64:
		if t == float64(int64(t)) {
			*v = Integer(int64(t))
		} else {
			*v = Real(t)
		}
	default:
		*v = Text(fmt.Sprintf("%v", t))
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindReal:
		return fmt.Sprintf("%g", v.Real)
	case KindText:
		return v.Text
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	default:
		return "?"
	}
}
