// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

// PayloadKind distinguishes a live value from a tombstone recording a
// deletion at a specific commit timestamp.
type PayloadKind uint8

const (
	// Value marks an entry carrying a live payload.
	Value PayloadKind = iota
	// Tombstone marks an entry recording that the key was deleted as of
	// its timestamp. A tombstone is a first-class entry, not an absence:
	// it occupies a slot in a key's history and is returned by History
	// and AllEntries like any other entry.
	Tombstone
)

func (k PayloadKind) String() string {
	if k == Tombstone {
		return "tombstone"
	}
	return "value"
}

// Entry is one recorded version of a user key: either the payload that was
// live as of Timestamp, or a tombstone marking deletion as of Timestamp.
type Entry struct {
	Key       []byte
	Timestamp int64
	Kind      PayloadKind
	Payload   []byte // nil when Kind == Tombstone
}

func (e Entry) isTombstone() bool { return e.Kind == Tombstone }

// encodeValue renders an Entry's payload half (tag byte ‖ payload) for
// storage in the primary table; the key half is encoded separately by
// encodeKey since it also drives the table's sort order.
func encodeValue(e Entry) []byte {
	if e.isTombstone() {
		return []byte{tagTombstone}
	}
	out := make([]byte, 0, len(e.Payload)+1)
	out = append(out, tagValue)
	return append(out, e.Payload...)
}

func decodeValue(raw []byte) (kind PayloadKind, payload []byte, err error) {
	if len(raw) == 0 {
		return 0, nil, errStorageCorrupt("empty stored value")
	}
	switch raw[0] {
	case tagTombstone:
		return Tombstone, nil, nil
	case tagValue:
		return Value, append([]byte{}, raw[1:]...), nil
	default:
		return 0, nil, errStorageCorrupt("unrecognized value tag")
	}
}
