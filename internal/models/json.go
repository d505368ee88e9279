package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText 以文本列存储的 JSON 文档
type JSONText json.RawMessage

// NewJSONText 序列化任意值
func NewJSONText(v interface{}) (JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONText(raw), nil
}

// Decode 反序列化到目标
func (j JSONText) Decode(v interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, v)
}

// MarshalJSON 原样输出
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON 原样保存
func (j *JSONText) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}

// Value 实现 driver.Valuer 接口
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONText) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
	return nil
}
