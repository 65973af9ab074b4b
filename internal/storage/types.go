package storage

import (
	"bytes"
	"encoding"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// serverTimestamp is replaced with the store clock when a document is written.
type serverTimestamp struct{}

// ServerTimestamp can be used as a field value in Add, Set and Update.
var ServerTimestamp = serverTimestamp{}

// Document is a single record of a collection.
type Document struct {
	ID   string
	Path string
	Data map[string]any
}

func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

func (d Document) Bool(field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

func (d Document) Int(field string) int64 {
	n, _ := toFloat(d.Data[field])
	return int64(n)
}

// Time returns the timestamp stored in field, or zero time when absent.
func (d Document) Time(field string) time.Time {
	t, ok := d.Data[field].(time.Time)
	if !ok {
		return time.Time{}
	}
	return t.UTC()
}

// Strings returns a string slice field; non-string elements are skipped.
func (d Document) Strings(field string) []string {
	switch v := d.Data[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type DBDocument struct {
	ID   string         `msgpack:"id"`
	Data map[string]any `msgpack:"data"`
}

func (d *DBDocument) Key() []byte {
	return []byte(d.ID)
}

func (d *DBDocument) MarshalBinary() (data []byte, err error) {
	type alias DBDocument
	return msgpack.Marshal((*alias)(d))
}

func (d *DBDocument) UnmarshalBinary(data []byte) error {
	type alias DBDocument
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	// Numbers come back as int64/uint64/float64 instead of the narrowest wire type.
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode((*alias)(d))
}
