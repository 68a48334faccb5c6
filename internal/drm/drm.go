// Package drm models content-protection metadata shared by the DASH and
// HLS parsers and maps the wire-level scheme identifiers each dialect uses
// onto a common key-system vocabulary, per spec.md §3 "DRM info",
// §4.4.2 "Content-Protection mapping" and §4.5.5.
package drm

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncryptionScheme identifies the CENC protection scheme in force.
type EncryptionScheme string

const (
	SchemeCENC EncryptionScheme = "cenc"
	SchemeCBCS EncryptionScheme = "cbcs"
)

// InitDataType identifies the format of an Info's init-data payload.
type InitDataType string

const (
	InitDataCENC    InitDataType = "cenc"
	InitDataWebM    InitDataType = "webm"
	InitDataKeyIDs  InitDataType = "keyids"
	InitDataSinf    InitDataType = "sinf"
)

// InitData is one protection-system-specific header, e.g. a base64-decoded
// `cenc:pssh` element or an HLS KEY URI payload.
type InitData struct {
	Type InitDataType
	Data []byte
}

// Info is the common DRM record attached to Variants and Streams. Once
// constructed it is treated as immutable — it may be shared by reference
// across every Stream within a Period (spec.md §5 "Shared resources").
type Info struct {
	// KeySystem is the fully-qualified key-system identifier, e.g.
	// "com.widevine.alpha".
	KeySystem string
	EncryptionScheme EncryptionScheme
	// KeyIDs is the set of key ids in lower-case hex, without hyphens.
	KeyIDs map[string]struct{}
	InitData []InitData
	LicenseServerURI string
	// KeySystemURIs lists alternate license servers in priority order.
	KeySystemURIs []string
	SessionType string
}

// NewInfo constructs an Info with an initialised KeyIDs set.
func NewInfo(keySystem string) *Info {
	return &Info{KeySystem: keySystem, KeyIDs: make(map[string]struct{})}
}

// AddKeyID normalises and records a key id. Accepts UUID-hyphenated or bare
// hex forms.
func (i *Info) AddKeyID(keyID string) {
	normalised := strings.ToLower(strings.ReplaceAll(keyID, "-", ""))
	if normalised == "" {
		return
	}
	i.KeyIDs[normalised] = struct{}{}
}

// KnownKeySystem maps a DASH ContentProtection @schemeIdUri or an HLS
// EXT-X-KEY KEYFORMAT to a fully-qualified key-system id, per spec.md
// §4.4.2 / §4.5.5. The boolean return is false for unrecognised schemes,
// which callers should treat as CategoryUnrecognisedScheme (skip, warn,
// continue) rather than a hard failure.
func KnownKeySystem(schemeOrKeyFormat string) (keySystem string, ok bool) {
	switch strings.ToLower(schemeOrKeyFormat) {
	case "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed":
		return "com.widevine.alpha", true
	case "urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95":
		return "com.microsoft.playready", true
	case "com.microsoft.playready":
		return "com.microsoft.playready", true
	case "urn:uuid:3d5e6d35-9b9a-41e8-b843-dd3c6e72c42c":
		return "com.huawei.wiseplay", true
	case "urn:uuid:f239e769-efa3-4850-9c16-a903c6932efb", "com.apple.streamingkeydelivery":
		return "com.apple.fps", true
	case "urn:mpeg:dash:mp4protection:2011":
		return "urn:mpeg:dash:mp4protection:2011", true
	case "identity", "":
		return "org.w3.clearkey", true
	default:
		return "", false
	}
}

// DecodeBase64InitData decodes a base64 pssh/init-data payload as found in
// `cenc:pssh` elements or HLS `data:` KEY URIs.
func DecodeBase64InitData(encoded string, kind InitDataType) (InitData, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return InitData{}, fmt.Errorf("drm: decoding init data: %w", err)
	}
	return InitData{Type: kind, Data: raw}, nil
}

// KeyIDFromHex normalises a default_KID / KEYID style hex/UUID string into
// lower-case hex without separators, as stored in Info.KeyIDs.
func KeyIDFromHex(s string) (string, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.ReplaceAll(s, "-", "")
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("drm: invalid key id %q: %w", s, err)
	}
	return s, nil
}

// Equal reports whether two Infos describe the same protection, used when
// deciding whether a live update's DRM signalling actually changed (to
// decide whether to fire newDrmInfo again).
func (i *Info) Equal(other *Info) bool {
	if i == nil || other == nil {
		return i == other
	}
	if i.KeySystem != other.KeySystem || i.EncryptionScheme != other.EncryptionScheme {
		return false
	}
	if len(i.KeyIDs) != len(other.KeyIDs) {
		return false
	}
	for k := range i.KeyIDs {
		if _, ok := other.KeyIDs[k]; !ok {
			return false
		}
	}
	return true
}
