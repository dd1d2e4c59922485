package photos

import (
	"encoding/base64"
	"encoding/json"
)

// ZoneID names a record zone.
type ZoneID struct {
	ZoneName        string `json:"zoneName"`
	OwnerRecordName string `json:"ownerRecordName,omitempty"`
	ZoneType        string `json:"zoneType,omitempty"`
}

// Record is a database record with raw field values.
type Record struct {
	RecordName      string           `json:"recordName"`
	RecordType      string           `json:"recordType"`
	RecordChangeTag string           `json:"recordChangeTag,omitempty"`
	Fields          map[string]Field `json:"fields"`
}

// Field is a typed record value.
type Field struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type,omitempty"`
}

// Filter is a query predicate.
type Filter struct {
	FieldName  string     `json:"fieldName"`
	Comparator string     `json:"comparator"`
	FieldValue FieldValue `json:"fieldValue"`
}

// FieldValue is a typed predicate operand.
type FieldValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

func equals(field, valueType string, value any) Filter {
	return Filter{FieldName: field, Comparator: "EQUALS", FieldValue: FieldValue{Type: valueType, Value: value}}
}

type resource struct {
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadURL"`
}

type reference struct {
	RecordName string `json:"recordName"`
}

func (r *Record) has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

func (r *Record) decode(key string, v any) bool {
	f, ok := r.Fields[key]
	if !ok || len(f.Value) == 0 {
		return false
	}
	return json.Unmarshal(f.Value, v) == nil
}

func (r *Record) stringValue(key string) string {
	var s string
	r.decode(key, &s)
	return s
}

func (r *Record) intValue(key string) (int64, bool) {
	var n float64
	if !r.decode(key, &n) {
		return 0, false
	}
	return int64(n), true
}

// encodedString decodes a base64 encoded string field.
func (r *Record) encodedString(key string) string {
	raw, err := base64.StdEncoding.DecodeString(r.stringValue(key))
	if err != nil {
		return ""
	}
	return string(raw)
}

// flag reads a field stored either as a boolean or as 0/1.
func (r *Record) flag(key string) bool {
	var v any
	if !r.decode(key, &v) {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	}
	return false
}

func (r *Record) reference(key string) string {
	var ref reference
	r.decode(key, &ref)
	return ref.RecordName
}

func (r *Record) resource(key string) (resource, bool) {
	var res resource
	ok := r.decode(key, &res)
	return res, ok
}
