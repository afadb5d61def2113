// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package keysystem

import (
	"fmt"
	"strings"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
)

// shorthands expand to key-system names, most specific first.
var shorthands = map[string][]string{
	"widevine": {"com.widevine.alpha"},
	"playready": {
		"com.microsoft.playready.recommendation",
		"com.microsoft.playready",
		"com.chromecast.playready",
		"com.youtube.playready",
	},
	"clearkey": {"webkit-org.w3.clearkey", "org.w3.clearkey"},
	"fairplay": {"com.apple.fps.1_0"},
}

// ExpandType resolves a shorthand; other names are returned as is.
func ExpandType(t string) []string {
	if names, ok := shorthands[strings.ToLower(t)]; ok {
		return names
	}
	return []string{t}
}

var (
	videoContentTypes = []string{
		`video/mp4;codecs="avc1.4d401e"`,
		`video/mp4;codecs="avc1.42e01e"`,
		`video/mp4;codecs="hvc1.1.6.L93.B0"`,
		`video/webm;codecs="vp9"`,
	}
	audioContentTypes = []string{
		`audio/mp4;codecs="mp4a.40.2"`,
		`audio/webm;codecs=opus`,
	}

	widevineVideoRobustnesses = []string{
		"HW_SECURE_ALL",
		"HW_SECURE_DECODE",
		"HW_SECURE_CRYPTO",
		"SW_SECURE_DECODE",
		"SW_SECURE_CRYPTO",
	}
	widevineAudioRobustnesses = []string{
		"HW_SECURE_CRYPTO",
		"SW_SECURE_DECODE",
		"SW_SECURE_CRYPTO",
	}
	playReadyVideoRobustnesses = []string{"3000", "2000"}
	playReadyAudioRobustnesses = []string{"2000"}
)

func defaultRobustnesses(keyType string) (video, audio []string) {
	switch {
	case keyType == "com.widevine.alpha":
		return widevineVideoRobustnesses, widevineAudioRobustnesses
	case keyType == "com.microsoft.playready.recommendation":
		return playReadyVideoRobustnesses, playReadyAudioRobustnesses
	}
	return []string{""}, []string{""}
}

// capabilities ranks robustness first: every content type of the most robust
// level comes before any of the next level.
func capabilities(contentTypes, robustnesses []string) []cdm.Capability {
	out := make([]cdm.Capability, 0, len(contentTypes)*len(robustnesses))
	for _, r := range robustnesses {
		for _, ct := range contentTypes {
			out = append(out, cdm.Capability{ContentType: ct, Robustness: r})
		}
	}
	return out
}

// Configurations builds the ranked configurations requested for keyType:
// the full one, then a capability-less fallback for legacy CDMs.
func Configurations(keyType string, opt *model.KeySystemOption) []cdm.KeySystemConfiguration {
	sessionTypes := []model.SessionType{model.SessionTemporary}
	persistentState := model.RequirementOptional
	if opt.PersistentLicenseConfig != nil {
		persistentState = model.RequirementRequired
		sessionTypes = append(sessionTypes, model.SessionPersistentLicense)
	}
	if opt.PersistentState != "" {
		persistentState = opt.PersistentState
	}
	distinctive := model.RequirementOptional
	if opt.DistinctiveIdentifier != "" {
		distinctive = opt.DistinctiveIdentifier
	}

	video, audio := defaultRobustnesses(keyType)
	if len(opt.VideoRobustnesses) > 0 {
		video = opt.VideoRobustnesses
	}
	if len(opt.AudioRobustnesses) > 0 {
		audio = opt.AudioRobustnesses
	}

	full := cdm.KeySystemConfiguration{
		Label:                 fmt.Sprintf("%s-full", keyType),
		InitDataTypes:         []string{"cenc"},
		VideoCapabilities:     capabilities(videoContentTypes, video),
		AudioCapabilities:     capabilities(audioContentTypes, audio),
		DistinctiveIdentifier: distinctive,
		PersistentState:       persistentState,
		SessionTypes:          sessionTypes,
	}
	fallback := cdm.KeySystemConfiguration{
		Label:                 fmt.Sprintf("%s-fallback", keyType),
		InitDataTypes:         []string{"cenc"},
		DistinctiveIdentifier: distinctive,
		PersistentState:       persistentState,
		SessionTypes:          sessionTypes,
	}
	return []cdm.KeySystemConfiguration{full, fallback}
}

type candidate struct {
	keyType string
	option  *model.KeySystemOption
}

func buildCandidates(options []model.KeySystemOption) []candidate {
	var out []candidate
	for i := range options {
		for _, kt := range ExpandType(options[i].Type) {
			out = append(out, candidate{keyType: kt, option: &options[i]})
		}
	}
	return out
}
