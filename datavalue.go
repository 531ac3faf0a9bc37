package reusablestore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"maps"
	"slices"
)

// Kind identifies the variant carried by a DataValue.
type Kind uint8

// DataValue kinds.
const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
	KindSet
	KindHash
	KindStream
	KindZSet
	KindHLL
	KindGeo
	KindJSON
	KindRaw
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindHash:
		return "hash"
	case KindStream:
		return "stream"
	case KindZSet:
		return "zset"
	case KindHLL:
		return "hll"
	case KindGeo:
		return "geo"
	case KindJSON:
		return "json"
	case KindRaw:
		return "raw"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// StreamEntry is one entry of a stream value.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// GeoMember is one member of a geo value.
type GeoMember struct {
	Member    string
	Longitude float64
	Latitude  float64
}

// DataValue is the tagged union of payloads the cache can hold. Kind
// selects which field carries the payload; the remaining fields are
// ignored.
type DataValue struct {
	Kind   Kind
	Str    string
	Num    float64
	Bool   bool
	List   []string
	Set    []string
	Hash   map[string]string
	Stream []StreamEntry
	ZSet   map[string]float64
	HLL    []string
	Geo    []GeoMember
	JSON   []byte
	Raw    []byte
}

// StringValue returns a string DataValue.
func StringValue(s string) DataValue { return DataValue{Kind: KindString, Str: s} }

// NumberValue returns a number DataValue.
func NumberValue(n float64) DataValue { return DataValue{Kind: KindNumber, Num: n} }

// BoolValue returns a boolean DataValue.
func BoolValue(b bool) DataValue { return DataValue{Kind: KindBool, Bool: b} }

// ListValue returns a list DataValue.
func ListValue(items ...string) DataValue { return DataValue{Kind: KindList, List: items} }

// SetValue returns a set DataValue.
func SetValue(members ...string) DataValue { return DataValue{Kind: KindSet, Set: members} }

// HashValue returns a hash DataValue.
func HashValue(fields map[string]string) DataValue { return DataValue{Kind: KindHash, Hash: fields} }

// StreamValue returns a stream DataValue.
func StreamValue(entries ...StreamEntry) DataValue {
	return DataValue{Kind: KindStream, Stream: entries}
}

// ZSetValue returns a sorted-set DataValue.
func ZSetValue(scores map[string]float64) DataValue { return DataValue{Kind: KindZSet, ZSet: scores} }

// HLLValue returns a HyperLogLog DataValue.
func HLLValue(members ...string) DataValue { return DataValue{Kind: KindHLL, HLL: members} }

// GeoValue returns a geo DataValue.
func GeoValue(members ...GeoMember) DataValue { return DataValue{Kind: KindGeo, Geo: members} }

// JSONValue returns a JSON DataValue holding raw JSON bytes.
func JSONValue(raw []byte) DataValue { return DataValue{Kind: KindJSON, JSON: raw} }

// RawValue returns a raw-bytes DataValue.
func RawValue(b []byte) DataValue { return DataValue{Kind: KindRaw, Raw: b} }

// valid reports whether the kind is one of the defined variants.
func (v DataValue) valid() bool {
	switch v.Kind {
	case KindString, KindNumber, KindBool, KindList, KindSet, KindHash,
		KindStream, KindZSet, KindHLL, KindGeo, KindJSON, KindRaw:
		return true
	default:
		return false
	}
}

// Equal reports whether two DataValues hold the same kind and payload.
func (v DataValue) Equal(o DataValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		return slices.Equal(v.List, o.List)
	case KindSet:
		return slices.Equal(v.Set, o.Set)
	case KindHash:
		return maps.Equal(v.Hash, o.Hash)
	case KindStream:
		if len(v.Stream) != len(o.Stream) {
			return false
		}
		for i := range v.Stream {
			if v.Stream[i].ID != o.Stream[i].ID || !maps.Equal(v.Stream[i].Fields, o.Stream[i].Fields) {
				return false
			}
		}
		return true
	case KindZSet:
		return maps.Equal(v.ZSet, o.ZSet)
	case KindHLL:
		return slices.Equal(v.HLL, o.HLL)
	case KindGeo:
		return slices.Equal(v.Geo, o.Geo)
	case KindJSON:
		return bytes.Equal(v.JSON, o.JSON)
	case KindRaw:
		return bytes.Equal(v.Raw, o.Raw)
	default:
		return false
	}
}

// encode serializes a DataValue for sealing. Kinds outside the defined
// set are rejected rather than silently encoded.
func (v DataValue) encode() ([]byte, error) {
	if !v.valid() {
		return nil, fmt.Errorf("cannot encode value of unknown kind %d", v.Kind)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeValue deserializes a DataValue produced by encode.
func decodeValue(data []byte) (DataValue, error) {
	var v DataValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return DataValue{}, fmt.Errorf("decode value: %w", err)
	}
	if !v.valid() {
		return DataValue{}, fmt.Errorf("decoded value has unknown kind %d", v.Kind)
	}
	return v, nil
}
