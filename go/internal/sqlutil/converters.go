package sqlutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and nullable column values

// ToNullUUID converts a Go UUID pointer to uuid.NullUUID
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{Valid: false}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// FromNullUUID converts uuid.NullUUID to Go UUID pointer
func FromNullUUID(val uuid.NullUUID) *uuid.UUID {
	if !val.Valid {
		return nil
	}
	id := val.UUID
	return &id
}

// ToNullJSON marshals v for a nullable JSON column. A nil v gives an invalid value.
func ToNullJSON(v any) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: len(raw) > 0}, nil
}

// NullJSON wraps bytes scanned from a JSON column.
func NullJSON(raw []byte) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: raw, Valid: raw != nil}
}

// JSONArg is the query argument for val: nil for NULL, the raw document otherwise
func JSONArg(val pqtype.NullRawMessage) any {
	if !val.Valid {
		return nil
	}
	return []byte(val.RawMessage)
}

// FromNullJSON unmarshals val into out. NULL leaves out untouched.
func FromNullJSON(val pqtype.NullRawMessage, out any) error {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil
	}
	return json.Unmarshal(val.RawMessage, out)
}

// FromTimePtr copies a nullable timestamp so callers never alias scan buffers
func FromTimePtr(val *time.Time) *time.Time {
	if val == nil {
		return nil
	}
	t := *val
	return &t
}
