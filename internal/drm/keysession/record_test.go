// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package keysession

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/emecore/internal/drm/initdata"
)

func kid(b byte) []byte { return bytes.Repeat([]byte{b}, 16) }

func values(data string) []initdata.Value {
	return []initdata.Value{{SystemID: "edef8ba979d64acea3c827dcd51d21ed", Data: []byte(data)}}
}

func TestAssociateKeyIDsIsMonotonic(t *testing.T) {
	r := New(initdata.New("cenc", values("a"), nil))
	r.AssociateKeyIDs([][]byte{kid(1), kid(2)})
	before := r.AssociatedKeyIDs()

	r.AssociateKeyIDs([][]byte{kid(2), kid(3)})
	r.AssociateKeyIDs(nil)
	after := r.AssociatedKeyIDs()

	assert.True(t, initdata.AllKeyIDsContained(before, after))
	assert.Empty(t, cmp.Diff([][]byte{kid(1), kid(2), kid(3)}, after))
}

func TestIsCompatibleWith(t *testing.T) {
	r := New(initdata.New("cenc", values("a"), nil))

	assert.True(t, r.IsCompatibleWith(initdata.New("cenc", values("a"), nil)))
	assert.False(t, r.IsCompatibleWith(initdata.New("webm", values("a"), nil)))
	assert.False(t, r.IsCompatibleWith(initdata.New("cenc", values("b"), nil)))

	// a license covering more keys than announced serves later init data
	r.AssociateKeyIDs([][]byte{kid(1), kid(2)})
	assert.True(t, r.IsCompatibleWith(initdata.New("cenc", values("b"), [][]byte{kid(2)})))
	assert.False(t, r.IsCompatibleWith(initdata.New("cenc", values("b"), [][]byte{kid(2), kid(9)})))
}

func TestIsCompatibleWithOriginalKeyIDs(t *testing.T) {
	r := New(initdata.New("cenc", values("a"), [][]byte{kid(1), kid(2)}))
	assert.True(t, r.IsCompatibleWith(initdata.New("cenc", values("z"), [][]byte{kid(1)})))
	assert.False(t, r.IsCompatibleWith(initdata.New("cenc", values("a"), [][]byte{kid(3)})))
}
