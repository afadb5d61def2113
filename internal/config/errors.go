// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "errors"

var (
	// ErrUnknownConfigField marks a YAML key that maps to no config field.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrTrailingDocument marks a config file holding more than one YAML document.
	ErrTrailingDocument = errors.New("config file contains multiple documents or trailing content")
	// ErrNoLicenseURL is returned when a key system has nowhere to send license requests.
	ErrNoLicenseURL = errors.New("no license url")
	// ErrKeyIDLength is returned for key ids that do not decode to 16 bytes.
	ErrKeyIDLength = errors.New("key id must be 16 bytes")
)
