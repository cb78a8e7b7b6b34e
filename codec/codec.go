// Package codec provides pluggable (de)serialization for artifact payloads.
// The coordinator encodes payloads to bytes before either cache tier sees
// them, so both tiers stay payload-type agnostic.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
