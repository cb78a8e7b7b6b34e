package artcache

import "strings"

// keySep separates owner from location in a serialized key. Owners must not
// contain the separator; locations may.
const keySep = "::"

// Key identifies one logical artifact: a content position inside an owner's
// stream (e.g. one reading session and a position within it).
type Key struct {
	Owner    string
	Location string
}

func NewKey(owner, location string) Key { return Key{Owner: owner, Location: location} }

// String serializes the key as "<owner>::<location>".
func (k Key) String() string { return k.Owner + keySep + k.Location }

// ParseKey splits a serialized key at the first separator.
// ok is false when b does not contain the separator.
func ParseKey(s string) (Key, bool) {
	owner, loc, found := strings.Cut(s, keySep)
	if !found {
		return Key{}, false
	}
	return Key{Owner: owner, Location: loc}, true
}

// ownerPrefix is the serialized-key prefix shared by all of an owner's keys.
func ownerPrefix(owner string) string { return owner + keySep }
