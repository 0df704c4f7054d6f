package market

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Payload is the item discriminator: two balances with the same name but
// different payloads are distinct goods. Values are JSON primitives,
// arrays, or nested objects.
type Payload map[string]interface{}

// jsonHandle is the shared canonical JSON codec. Canonical mode sorts
// object keys at every depth, which is what keeps payload hashes stable
// across equivalent encodings.
var jsonHandle = func() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.Canonical = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}()

// ParsePayload decodes a JSON object into a normalized Payload.
// Empty input decodes to an empty payload.
func ParsePayload(raw string) (Payload, error) {
	if raw == "" {
		return Payload{}, nil
	}
	var m map[string]interface{}
	if err := codec.NewDecoderBytes([]byte(raw), jsonHandle).Decode(&m); err != nil {
		return nil, NewValidationError("malformed payload: %v", err)
	}
	return Payload(normalizeMap(m)), nil
}

// Canonical encodes the payload as canonical JSON: recursively key-sorted
// objects, integral numbers rendered as integers. A nil payload encodes
// as the empty object.
func (p Payload) Canonical() ([]byte, error) {
	m := normalizeMap(p)
	if m == nil {
		m = map[string]interface{}{}
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(m); err != nil {
		return nil, NewValidationError("payload not encodable: %v", err)
	}
	return out, nil
}

// Contains reports whether sub is satisfied by p: every key sub demands
// must be present in p with a containing value. Objects recurse, array
// elements must each be contained, scalars must be equal. The test is
// asymmetric, matching relational JSON containment.
func (p Payload) Contains(sub Payload) bool {
	return containsValue(normalizeMap(p), normalizeMap(sub))
}

// ItemHash computes the fungibility key for a (name, payload) pair:
// SHA-256 over the name concatenated with the canonical payload encoding.
func ItemHash(name string, payload Payload) (string, error) {
	canonical, err := payload.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	sum.Write([]byte(name))
	sum.Write(canonical)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue collapses the numeric types JSON decoding and Go
// literals produce into int64 (integral) or float64 (fractional), so
// canonical encodings and containment checks do not depend on how a
// payload entered the process.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case Payload:
		return normalizeMap(t)
	case map[string]interface{}:
		return normalizeMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return t
	}
}

func normalizeFloat(f float64) interface{} {
	if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}
	return f
}

func containsValue(doc, sub interface{}) bool {
	switch s := sub.(type) {
	case map[string]interface{}:
		d, ok := doc.(map[string]interface{})
		if !ok {
			return false
		}
		for k, sv := range s {
			dv, present := d[k]
			if !present || !containsValue(dv, sv) {
				return false
			}
		}
		return true
	case []interface{}:
		d, ok := doc.([]interface{})
		if !ok {
			return false
		}
		for _, se := range s {
			found := false
			for _, de := range d {
				if containsValue(de, se) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		// A scalar is contained in an array holding it.
		if d, ok := doc.([]interface{}); ok {
			for _, de := range d {
				if containsValue(de, s) {
					return true
				}
			}
			return false
		}
		return reflect.DeepEqual(doc, sub)
	}
}
