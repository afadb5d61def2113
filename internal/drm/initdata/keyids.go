// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package initdata

import (
	"bytes"
	"encoding/hex"
)

// ContainsKeyID reports whether id is in list, compared by value.
func ContainsKeyID(list [][]byte, id []byte) bool {
	for _, k := range list {
		if bytes.Equal(k, id) {
			return true
		}
	}
	return false
}

// AllKeyIDsContained reports whether every id of ids is in list.
func AllKeyIDsContained(ids, list [][]byte) bool {
	for _, id := range ids {
		if !ContainsKeyID(list, id) {
			return false
		}
	}
	return true
}

// SomeKeyIDsContained reports whether at least one id of ids is in list.
func SomeKeyIDsContained(ids, list [][]byte) bool {
	for _, id := range ids {
		if ContainsKeyID(list, id) {
			return true
		}
	}
	return false
}

// AppendUniqueKeyIDs appends the ids of add not already present in dst.
func AppendUniqueKeyIDs(dst [][]byte, add ...[]byte) [][]byte {
	for _, id := range add {
		if !ContainsKeyID(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

// KeyIDsHex renders key ids for logs.
func KeyIDsHex(ids [][]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = hex.EncodeToString(id)
	}
	return out
}
