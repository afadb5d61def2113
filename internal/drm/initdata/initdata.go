// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package initdata models protection initialization data and its comparison rules.
package initdata

import (
	"bytes"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Value is one (systemId, data) pair. An empty SystemID means unknown.
type Value struct {
	SystemID string
	Data     []byte
}

// Period is the temporal content division a key id belongs to.
type Period struct {
	ID     string
	KeyIDs [][]byte
}

// Content is the opaque reference to the content the init data was found in.
// Periods lists every period of the content, Period is the one holding the
// init data.
type Content struct {
	Periods []Period
	Period  *Period
}

// KeyIDs returns every key id of the content, without duplicates.
func (c *Content) KeyIDs() [][]byte {
	if c == nil {
		return nil
	}
	var out [][]byte
	for _, p := range c.Periods {
		out = AppendUniqueKeyIDs(out, p.KeyIDs...)
	}
	return out
}

// InitializationData is produced once per distinct protection event and is
// immutable afterwards.
type InitializationData struct {
	Type    string
	Values  *Values
	KeyIDs  [][]byte
	Content *Content
}

// New builds InitializationData from raw values.
func New(typ string, values []Value, keyIDs [][]byte) InitializationData {
	return InitializationData{Type: typ, Values: NewValues(values), KeyIDs: keyIDs}
}

// WithContent returns a copy bound to content.
func (d InitializationData) WithContent(c *Content) InitializationData {
	d.Content = c
	return d
}

// HasKeyIDs reports whether key ids were extracted for this init data.
func (d InitializationData) HasKeyIDs() bool {
	return len(d.KeyIDs) > 0
}

// Formatted is a value with its fingerprint.
type Formatted struct {
	SystemID string
	Data     []byte
	Hash     uint64
}

// Values wraps init data values and lazily computes their sorted fingerprints.
type Values struct {
	inner []Value

	once      sync.Once
	formatted []Formatted
}

// NewValues wraps raw values; the slice is copied.
func NewValues(values []Value) *Values {
	cp := make([]Value, len(values))
	for i, v := range values {
		cp[i] = Value{SystemID: NormalizeSystemID(v.SystemID), Data: v.Data}
	}
	return &Values{inner: cp}
}

// Raw returns the wrapped values in arrival order.
func (v *Values) Raw() []Value {
	if v == nil {
		return nil
	}
	return v.inner
}

// Len returns the number of values.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.inner)
}

// Formatted returns the values sorted by system id (unknown last) with their hashes.
func (v *Values) Formatted() []Formatted {
	if v == nil {
		return nil
	}
	v.once.Do(func() {
		out := make([]Formatted, len(v.inner))
		for i, val := range v.inner {
			out[i] = Formatted{SystemID: val.SystemID, Data: val.Data, Hash: Hash(val.Data)}
		}
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].SystemID, out[j].SystemID
			switch {
			case a == b:
				return false
			case a == "":
				return false
			case b == "":
				return true
			default:
				return a < b
			}
		})
		v.formatted = out
	})
	return v.formatted
}

// IsCompatibleWith compares both fingerprint sets.
func (v *Values) IsCompatibleWith(other *Values) bool {
	return Compatible(v.Formatted(), other.Formatted())
}

// RequestData concatenates every value's data, the payload given to generateRequest.
func (v *Values) RequestData() []byte {
	if v == nil {
		return nil
	}
	var buf bytes.Buffer
	for _, val := range v.inner {
		buf.Write(val.Data)
	}
	return buf.Bytes()
}

// FilterSystemID keeps the values for systemID plus those with an unknown
// system id. When nothing matches, v is returned unchanged.
func (v *Values) FilterSystemID(systemID string) *Values {
	systemID = NormalizeSystemID(systemID)
	if v == nil || systemID == "" {
		return v
	}
	var kept []Value
	matched := false
	for _, val := range v.inner {
		if val.SystemID == systemID {
			matched = true
			kept = append(kept, val)
		} else if val.SystemID == "" {
			kept = append(kept, val)
		}
	}
	if !matched {
		return v
	}
	return NewValues(kept)
}

// Fingerprint is a stable digest over every formatted value.
func (v *Values) Fingerprint() string {
	d := xxhash.New()
	for _, f := range v.Formatted() {
		_, _ = d.WriteString(f.SystemID)
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(f.Data)
		_, _ = d.Write([]byte{0})
	}
	return hex.EncodeToString(d.Sum(nil))
}

// Hash fingerprints one value's data.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// NormalizeSystemID lowercases and strips dashes from a system id.
func NormalizeSystemID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// Compatible returns true when one fingerprint set is contained in the other.
// A shared system id carrying different data makes both sets incompatible.
func Compatible(a, b []Formatted) bool {
	if res, decided := isAInB(a, b); decided {
		return res
	}
	if res, decided := isAInB(b, a); decided {
		return res
	}
	return false
}

func isAInB(a, b []Formatted) (result bool, decided bool) {
	if len(a) == 0 {
		return false, true
	}
	if len(b) < len(a) {
		return false, false
	}
	for _, av := range a {
		found, conflict := false, false
		for _, bv := range b {
			if bv.SystemID != av.SystemID {
				continue
			}
			if bv.Hash == av.Hash && bytes.Equal(bv.Data, av.Data) {
				found = true
				break
			}
			conflict = true
		}
		if !found {
			if conflict {
				return false, true
			}
			return false, false
		}
	}
	return true, true
}
