package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB-backed column types. Each marshals to JSON on write and
// accepts either []byte or string on read.

type (
	ReceiptBatches      []ReceiptBatch
	ProductLines        []ProductLine
	ConsumedIngredients []ConsumedIngredient
	StringList          []string
)

func (v ReceiptBatches) Value() (driver.Value, error)      { return jsonValue(v) }
func (v *ReceiptBatches) Scan(src interface{}) error       { return jsonScan(src, v) }
func (v ProductLines) Value() (driver.Value, error)        { return jsonValue(v) }
func (v *ProductLines) Scan(src interface{}) error         { return jsonScan(src, v) }
func (v ConsumedIngredients) Value() (driver.Value, error) { return jsonValue(v) }
func (v *ConsumedIngredients) Scan(src interface{}) error  { return jsonScan(src, v) }
func (v StringList) Value() (driver.Value, error)          { return jsonValue(v) }
func (v *StringList) Scan(src interface{}) error           { return jsonScan(src, v) }
func (v PaymentSlip) Value() (driver.Value, error)         { return jsonValue(v) }
func (v *PaymentSlip) Scan(src interface{}) error          { return jsonScan(src, v) }

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return b, nil
}

func jsonScan(src interface{}, dst interface{}) error {
	var data []byte
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}
