package kv

// Key prefixes. Each prefix ends with '|' as a separator.
const (
	PrefixIndexMeta = "m|" // m|{shape}\x00{annotation_id}
)

const sep = '\x00'

// IndexMetaKey returns the Pebble key for an index metadata entry:
// m|{shape}\x00{annotation_id}. The value stores indexed_ns as 8-byte
// big-endian.
func IndexMetaKey(shape, annotationID string) []byte {
	k := append([]byte(PrefixIndexMeta), shape...)
	k = append(k, sep)
	return append(k, annotationID...)
}

// IndexMetaPrefix returns the scan prefix for all metadata entries of a
// shape: m|{shape}\x00
func IndexMetaPrefix(shape string) []byte {
	k := append([]byte(PrefixIndexMeta), shape...)
	return append(k, sep)
}
