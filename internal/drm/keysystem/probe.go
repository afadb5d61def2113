// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package keysystem

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
)

// probeHeader is a PlayReady header protecting nothing.
const probeHeader = `<WRMHEADER xmlns="http://schemas.microsoft.com/DRM/2007/03/PlayReadyHeader" version="4.0.0.0">` +
	`<DATA><PROTECTINFO><KEYLEN>16</KEYLEN><ALGID>AESCTR</ALGID></PROTECTINFO>` +
	`<KID>ckB07BNLskeUq0qd83fTbA==</KID><LA_URL>https://www.example.com/rightsmanager.asmx</LA_URL>` +
	`</DATA></WRMHEADER>`

// ProbeInitData returns the canned "cenc" payload used to probe key systems:
// a PSSH box carrying a PlayReady object.
func ProbeInitData() ([]byte, error) {
	xml, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(probeHeader))
	if err != nil {
		return nil, fmt.Errorf("encode probe header: %w", err)
	}
	// PlayReady object: total length, record count, then one rights-management header record.
	pro := make([]byte, 10, 10+len(xml))
	binary.LittleEndian.PutUint32(pro[0:4], uint32(10+len(xml)))
	binary.LittleEndian.PutUint16(pro[4:6], 1)
	binary.LittleEndian.PutUint16(pro[6:8], 1)
	binary.LittleEndian.PutUint16(pro[8:10], uint16(len(xml)))
	pro = append(pro, xml...)
	return initdata.BuildPSSH(cdm.SystemIDPlayReady, nil, pro)
}

// probe confirms access by running a license request generation on a
// throwaway session.
func probe(ctx context.Context, access cdm.Access) error {
	mk, err := access.CreateMediaKeys(ctx)
	if err != nil {
		return fmt.Errorf("probe: create media keys: %w", err)
	}
	sess, err := mk.CreateSession(model.SessionTemporary)
	if err != nil {
		return fmt.Errorf("probe: create session: %w", err)
	}
	defer func() { _ = sess.Close(context.WithoutCancel(ctx)) }()

	payload, err := ProbeInitData()
	if err != nil {
		return err
	}
	if err := sess.GenerateRequest(ctx, "cenc", payload); err != nil {
		return fmt.Errorf("probe: generate request: %w", err)
	}
	return nil
}
