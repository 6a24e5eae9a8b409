package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Document is a schema-less record keyed by its "id" field.
type Document map[string]any

const (
	FieldID         = "id"
	FieldModifiedAt = "modifiedAt"
)

func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// ModifiedAt returns the modification timestamp in milliseconds. Numbers
// decoded from JSON arrive as float64, from BSON as int32/int64.
func (d Document) ModifiedAt() int64 {
	return toInt64(d[FieldModifiedAt])
}

// Bool reports whether the field holds a truthy value.
func (d Document) Bool(field string) bool {
	switch v := d[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case nil:
		return false
	default:
		return toInt64(v) != 0
	}
}

// Clone returns a deep copy made through a JSON round trip.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		out := make(Document, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	out := Document{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Equal compares two documents by their canonical JSON encoding, so
// int64(100) and float64(100) are considered the same value.
func (d Document) Equal(other Document) bool {
	if d == nil || other == nil {
		return d == nil && other == nil
	}
	a, errA := json.Marshal(d)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		if math.IsNaN(n) {
			return 0
		}
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

// Checkpoint is the position of the last canonical document pulled into
// the local store.
type Checkpoint struct {
	ID         string `json:"id" bson:"id"`
	ModifiedAt int64  `json:"modifiedAt" bson:"modifiedAt"`
}

func CheckpointOf(doc Document) Checkpoint {
	return Checkpoint{ID: doc.ID(), ModifiedAt: doc.ModifiedAt()}
}

func (c Checkpoint) IsZero() bool {
	return c.ID == "" && c.ModifiedAt == 0
}

// Less orders checkpoints by modifiedAt, then id.
func (c Checkpoint) Less(other Checkpoint) bool {
	if c.ModifiedAt != other.ModifiedAt {
		return c.ModifiedAt < other.ModifiedAt
	}
	return c.ID < other.ID
}

// Schema carries the per-collection replication settings sent by the host.
type Schema struct {
	DeletedField string `json:"deletedField,omitempty" bson:"deletedField,omitempty"`
}
