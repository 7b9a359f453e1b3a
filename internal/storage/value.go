// Package storage implements the keyspace: the shared mapping from Key to
// Value, its expiry index, and the Stream data type.
package storage

// ValueType classifies what kind of data a Value holds.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeString
	TypeList
	TypeStream
)

// String returns the wire-visible type name (TYPE command, §4.4).
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is the tagged variant stored under a Key. Only one of Str/List/Stream
// is meaningful, selected by Kind.
type Value struct {
	Kind   ValueType
	Str    []byte
	List   [][]byte
	Stream *Stream
}

func NewStringValue(b []byte) *Value {
	return &Value{Kind: TypeString, Str: b}
}

func NewStreamValue() *Value {
	return &Value{Kind: TypeStream, Stream: NewStream()}
}
