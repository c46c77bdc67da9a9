package store

import "encoding/json"

// marshalArray marshals a slice for a JSON column. A nil slice becomes
// [] rather than null so audit readers always see a JSON array.
func marshalArray[T any](s []T) ([]byte, error) {
	if s == nil {
		s = []T{}
	}
	return json.Marshal(s)
}

// marshalObject marshals a map for a JSON column. A nil map becomes {}
// rather than null so audit readers always see a JSON object.
func marshalObject[K comparable, V any](m map[K]V) ([]byte, error) {
	if m == nil {
		m = map[K]V{}
	}
	return json.Marshal(m)
}
