package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue wraps an arbitrary Go value for pgx to encode as JSONB.
type jsonValue struct{ v interface{} }

func jsonOrNil(v interface{}) driver.Valuer { return jsonValue{v} }

func (j jsonValue) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	return json.Marshal(j.v)
}

// jsonScanner decodes a JSONB column into dst.
type jsonScanner struct{ dst interface{} }

func jsonDest(dst interface{}) *jsonScanner { return &jsonScanner{dst: dst} }

func (j *jsonScanner) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonScanner: unsupported source type %T", src)
	}
	return json.Unmarshal(data, j.dst)
}
