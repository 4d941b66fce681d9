package triples

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixForward = byte(0x01) // fwd:name:subject:value -> empty
	prefixReverse = byte(0x02) // rev:name:len(value):value:subject -> empty
	prefixCatalog = byte(0x03) // cat:name -> flags
	prefixGuard   = byte(0x04) // grd:name:subject -> empty
)

const flagMulti = byte(0x01)

func validName(name string) bool {
	return name != "" && !strings.ContainsRune(name, 0)
}

// namePrefix returns prefix + name + 0x00, the scan prefix for one name.
func namePrefix(prefix byte, name string) []byte {
	key := make([]byte, 0, 1+len(name)+1)
	key = append(key, prefix)
	key = append(key, name...)
	key = append(key, 0x00)
	return key
}

// forwardPrefix scans every value of (subject, name).
// Format: 0x01 + name + 0x00 + subject (8 bytes, big endian)
func forwardPrefix(name string, subject uint64) []byte {
	key := namePrefix(prefixForward, name)
	return binary.BigEndian.AppendUint64(key, subject)
}

func forwardKey(name string, subject uint64, value string) []byte {
	return append(forwardPrefix(name, subject), value...)
}

// reversePrefix scans every subject holding value under name. The value is
// length-prefixed so that one value is never a prefix of another.
// Format: 0x02 + name + 0x00 + uvarint(len(value)) + value
func reversePrefix(name, value string) []byte {
	key := namePrefix(prefixReverse, name)
	key = binary.AppendUvarint(key, uint64(len(value)))
	return append(key, value...)
}

func reverseKey(name, value string, subject uint64) []byte {
	return binary.BigEndian.AppendUint64(reversePrefix(name, value), subject)
}

// guardKey is read and written by every overwrite of (subject, name) so that
// two racing overwrites conflict even when no value exists yet.
func guardKey(name string, subject uint64) []byte {
	return binary.BigEndian.AppendUint64(namePrefix(prefixGuard, name), subject)
}

func catalogKey(name string) []byte {
	return append([]byte{prefixCatalog}, name...)
}

// splitForward decodes a forward key into its parts.
func splitForward(key []byte) (name string, subject uint64, value string, ok bool) {
	if len(key) < 1 || key[0] != prefixForward {
		return "", 0, "", false
	}
	rest := key[1:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 || len(rest) < sep+1+8 {
		return "", 0, "", false
	}
	name = string(rest[:sep])
	subject = binary.BigEndian.Uint64(rest[sep+1 : sep+9])
	value = string(rest[sep+9:])
	return name, subject, value, true
}

// subjectOfReverse extracts the trailing subject of a reverse key.
func subjectOfReverse(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
