// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cdm

import "strings"

// Well-known DRM system ids (PSSH SystemID, lowercase hex).
const (
	SystemIDWidevine  = "edef8ba979d64acea3c827dcd51d21ed"
	SystemIDPlayReady = "9a04f07998404286ab92e65be0885f95"
	SystemIDClearKey  = "1077efecc0b24d02ace33c1e52e2fb4b"
	SystemIDFairPlay  = "94ce86fb07ff4f43adb893d2fa968ca2"
)

// SystemIDForKeySystem maps a key-system name to its system id, or "".
func SystemIDForKeySystem(keyType string) string {
	k := strings.ToLower(keyType)
	switch {
	case strings.Contains(k, "widevine"):
		return SystemIDWidevine
	case strings.Contains(k, "playready"):
		return SystemIDPlayReady
	case strings.Contains(k, "clearkey"):
		return SystemIDClearKey
	case strings.Contains(k, "fairplay"), strings.Contains(k, "com.apple.fps"):
		return SystemIDFairPlay
	}
	return ""
}
