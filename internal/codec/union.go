// Package codec holds small helpers shared by the idl and envelope packages
// for dealing with goavro's native Go representation of Avro unions and for
// streaming Avro object containers with a digest computed over the exact
// bytes written or read.
package codec

// OptString wraps a *string into goavro's native representation of an Avro
// ["null", "string"] union.
func OptString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return map[string]interface{}{"string": *s}
}

// UnwrapOptString reverses OptString.
func UnwrapOptString(v interface{}) *string {
	if v == nil {
		return nil
	}
	m := v.(map[string]interface{})
	s := m["string"].(string)
	return &s
}

// OptInt wraps a *int32 into goavro's native representation of an Avro
// ["null", "int"] union.
func OptInt(i *int32) interface{} {
	if i == nil {
		return nil
	}
	return map[string]interface{}{"int": *i}
}

// UnwrapOptInt reverses OptInt.
func UnwrapOptInt(v interface{}) *int32 {
	if v == nil {
		return nil
	}
	m := v.(map[string]interface{})
	i := m["int"].(int32)
	return &i
}

// OptBytes wraps a []byte into goavro's native representation of an Avro
// ["null", "bytes"] union. A nil or empty slice is encoded as the null
// branch.
func OptBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return map[string]interface{}{"bytes": b}
}

// UnwrapOptBytes reverses OptBytes.
func UnwrapOptBytes(v interface{}) []byte {
	if v == nil {
		return nil
	}
	m := v.(map[string]interface{})
	return m["bytes"].([]byte)
}

// StringArray converts a []string to the []interface{} goavro expects for
// an Avro array<string> field.
func StringArray(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// UnwrapStringArray reverses StringArray.
func UnwrapStringArray(v interface{}) []string {
	arr := v.([]interface{})
	out := make([]string, len(arr))
	for i, e := range arr {
		out[i] = e.(string)
	}
	return out
}

// Int64Array converts a []int64 to the []interface{} goavro expects for an
// Avro array<long> field.
func Int64Array(is []int64) []interface{} {
	out := make([]interface{}, len(is))
	for i, n := range is {
		out[i] = n
	}
	return out
}

// UnwrapInt64Array reverses Int64Array.
func UnwrapInt64Array(v interface{}) []int64 {
	arr := v.([]interface{})
	out := make([]int64, len(arr))
	for i, e := range arr {
		out[i] = e.(int64)
	}
	return out
}
