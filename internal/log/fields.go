// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldDecryptorID = "decryptor_id"
	FieldSessionID   = "session_id"
	FieldElementID   = "element_id"
	FieldRequestID   = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldCode      = "code"

	// Key system fields
	FieldKeySystem    = "key_system"
	FieldKeyID        = "key_id"
	FieldKeyStatus    = "key_status"
	FieldInitDataType = "init_data_type"
	FieldSessionType  = "session_type"
	FieldMessageType  = "message_type"
	FieldScope        = "single_license_per"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldCount    = "count"
)
