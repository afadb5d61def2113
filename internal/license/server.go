// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package license

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/ManuGH/emecore/internal/drm/initdata"
	xglog "github.com/ManuGH/emecore/internal/log"
)

// ServerOptions configures the simulated license server.
type ServerOptions struct {
	// Denied key ids are never granted.
	Denied [][]byte
	// RequestLimit per Window and client IP; zero disables rate limiting.
	RequestLimit int
	Window       time.Duration
}

// NewServer returns a license server granting the key ids found in the
// request. The request is either PSSH boxes or concatenated 16-byte key ids;
// the license is the concatenation of the granted key ids.
func NewServer(opts ServerOptions) http.Handler {
	r := chi.NewRouter()
	Routes(r, opts)
	return r
}

// Routes registers POST /license on r.
func Routes(r chi.Router, opts ServerOptions) {
	if opts.RequestLimit > 0 {
		window := opts.Window
		if window <= 0 {
			window = time.Minute
		}
		r = r.With(httprate.Limit(opts.RequestLimit, window, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	r.Post("/license", func(w http.ResponseWriter, req *http.Request) {
		logger := xglog.WithComponent("license.server")
		body, err := io.ReadAll(io.LimitReader(req.Body, maxLicenseSize))
		if err != nil {
			http.Error(w, "unreadable request", http.StatusBadRequest)
			return
		}
		kids, err := requestedKeyIDs(body)
		if err != nil {
			logger.Warn().Err(err).Msg("rejecting license request")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var granted bytes.Buffer
		for _, kid := range kids {
			if !initdata.ContainsKeyID(opts.Denied, kid) {
				granted.Write(kid)
			}
		}
		logger.Info().
			Str(xglog.FieldMessageType, req.Header.Get(HeaderMessageType)).
			Int(xglog.FieldCount, granted.Len()/16).
			Msg("license granted")
		if granted.Len() == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(granted.Bytes())
	})
}

func requestedKeyIDs(body []byte) ([][]byte, error) {
	if d, err := initdata.FromPSSH("cenc", body); err == nil && d.HasKeyIDs() {
		return d.KeyIDs, nil
	}
	if len(body) == 0 || len(body)%16 != 0 {
		return nil, fmt.Errorf("request of %d bytes carries no key id", len(body))
	}
	kids := make([][]byte, 0, len(body)/16)
	for i := 0; i < len(body); i += 16 {
		kids = append(kids, body[i:i+16])
	}
	return kids, nil
}
