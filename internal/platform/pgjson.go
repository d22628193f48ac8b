package platform

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONColumn stores V in a JSONB column.
type JSONColumn[T any] struct {
	V T
}

func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *JSONColumn[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		var zero T
		c.V = zero
		return nil
	case []byte:
		return json.Unmarshal(v, &c.V)
	case string:
		return json.Unmarshal([]byte(v), &c.V)
	default:
		return fmt.Errorf("jsonb: unsupported source type %T", src)
	}
}
