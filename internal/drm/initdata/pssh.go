// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package initdata

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// FromPSSH decodes concatenated ISOBMFF PSSH boxes into InitializationData.
// Version 1 boxes contribute their key ids.
func FromPSSH(typ string, boxes []byte) (InitializationData, error) {
	r := bytes.NewReader(boxes)
	var (
		values []Value
		keyIDs [][]byte
		pos    uint64
	)
	for r.Len() > 0 {
		box, err := mp4.DecodeBox(pos, r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return InitializationData{}, fmt.Errorf("decode pssh box: %w", err)
		}
		pos += box.Size()
		pssh, ok := box.(*mp4.PsshBox)
		if !ok {
			return InitializationData{}, fmt.Errorf("box is a %s instead of a pssh", box.Type())
		}
		raw, err := encodeBox(pssh)
		if err != nil {
			return InitializationData{}, err
		}
		values = append(values, Value{SystemID: hex.EncodeToString(pssh.SystemID), Data: raw})
		for _, kid := range pssh.KIDs {
			keyIDs = AppendUniqueKeyIDs(keyIDs, []byte(kid))
		}
	}
	if len(values) == 0 {
		return InitializationData{}, errors.New("no pssh box found")
	}
	return New(typ, values, keyIDs), nil
}

// BuildPSSH encodes one PSSH box. Key ids make it a version 1 box.
func BuildPSSH(systemID string, keyIDs [][]byte, data []byte) ([]byte, error) {
	sys, err := hex.DecodeString(NormalizeSystemID(systemID))
	if err != nil || len(sys) != 16 {
		return nil, fmt.Errorf("invalid system id %q", systemID)
	}
	box := &mp4.PsshBox{SystemID: mp4.UUID(sys), Data: data}
	if len(keyIDs) > 0 {
		box.Version = 1
		for _, kid := range keyIDs {
			box.KIDs = append(box.KIDs, mp4.UUID(kid))
		}
	}
	return encodeBox(box)
}

func encodeBox(box *mp4.PsshBox) ([]byte, error) {
	var buf bytes.Buffer
	if err := box.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode pssh box: %w", err)
	}
	return buf.Bytes(), nil
}
