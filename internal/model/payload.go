package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Payload is the opaque structured document the core carries without
// inspecting: owned by the business logic, the core only ever moves it
// around, never reads into it. It is a plain map with its own JSON
// Valuer/Scanner, and converts to gorm.io/datatypes.JSON (the jsonb-column
// wrapper used for this codebase's own jobs payload/result columns,
// internal/domain/jobs/job_run.go) through AsDatatypesJSON.
type Payload map[string]interface{}

// Value implements driver.Valuer for writing the payload as jsonb.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(p))
}

// Scan implements sql.Scanner for reading the payload back from jsonb.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = Payload{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("model: unsupported Payload scan source %T", value)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		*p = Payload{}
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("model: unmarshal payload: %w", err)
	}
	*p = Payload(m)
	return nil
}

// GormDataType reports the generic "json" data type, as datatypes.JSON
// does. Payload has no per-dialect GormDBDataType, so the column type
// gorm uses comes from the field's own tag (QueueRecord.Payload pins
// type:jsonb).
func (Payload) GormDataType() string {
	return "json"
}

// Merge returns a new Payload containing this payload's keys plus the
// given key set to value, preserving the original input. Used by
// mark_completed to fold the result in under the "result" key without
// losing the input.
func (p Payload) Merge(key string, value interface{}) Payload {
	out := make(Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// AsDatatypesJSON adapts Payload to gorm.io/datatypes.JSON for call sites
// that need the concrete wrapper type (e.g. raw SQL parameter binding in
// the repository layer).
func (p Payload) AsDatatypesJSON() (datatypes.JSON, error) {
	b, err := json.Marshal(map[string]interface{}(p))
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
