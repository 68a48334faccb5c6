package hls

import (
	"context"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrelstream/manifestcore/internal/drm"
	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/manifest"
)

// errUnsupportedMethod is the cause wrapped in a CategoryUnsupportedEncryption
// error for an #EXT-X-KEY METHOD this parser does not handle, or an AES-128
// key with no URI (spec.md §4.5.5).
type errUnsupportedMethod struct{ method string }

func (e errUnsupportedMethod) Error() string { return "hls: unsupported encryption method " + e.method }

// resolveKeys converts the #EXT-X-KEY rows active for a segment into
// drm.Info values (one per distinct key system) plus, for METHOD=AES-128,
// the raw key bytes to decrypt the segment with, per spec.md §4.5.5.
func resolveKeys(ctx context.Context, keys []keyRow, fetcher fetch.Fetcher, contextName string, diag *manifest.Diagnostics) (infos []*drm.Info, aesKey []byte, err error) {
	for _, k := range keys {
		method := strings.ToUpper(k.Method)
		switch method {
		case "", "NONE":
			continue

		case "AES-128":
			keyBytes, ferr := fetchKeyBytes(ctx, k.URI, fetcher)
			if ferr != nil {
				return nil, nil, manifest.NewError(manifest.CategoryUnsupportedEncryption, contextName, ferr)
			}
			aesKey = keyBytes

		case "SAMPLE-AES-CTR", "SAMPLE-AES":
			keySystem, ok := drm.KnownKeySystem(k.KeyFormat)
			if !ok {
				diag.Add(manifest.NewWarning(manifest.CategoryUnrecognisedScheme, contextName, errUnrecognisedKeyFormat(k.KeyFormat)))
				continue
			}
			info := drm.NewInfo(keySystem)
			if k.KeyID != "" {
				if kid, err := drm.KeyIDFromHex(k.KeyID); err == nil {
					info.AddKeyID(kid)
				}
			}
			if strings.HasPrefix(k.URI, "data:") {
				if idx := strings.Index(k.URI, "base64,"); idx >= 0 {
					if id, derr := drm.DecodeBase64InitData(k.URI[idx+len("base64,"):], drm.InitDataSinf); derr == nil {
						info.InitData = append(info.InitData, id)
					}
				}
			} else if k.URI != "" {
				info.LicenseServerURI = k.URI
			}
			infos = append(infos, info)

		default:
			return nil, nil, manifest.NewError(manifest.CategoryUnsupportedEncryption, contextName, errUnsupportedMethod{method: method})
		}
	}
	return infos, aesKey, nil
}

type errKeyFormat struct{ format string }

func (e errKeyFormat) Error() string { return "hls: unrecognised KEYFORMAT " + e.format }

func errUnrecognisedKeyFormat(format string) error { return errKeyFormat{format: format} }

// IVForSegment returns the 16-byte IV for an AES-128-CBC segment: the
// IV= attribute on its active #EXT-X-KEY if present, otherwise the
// segment's media-sequence number big-endian padded to 16 bytes, per
// spec.md §4.5.5. segment.Reference carries the key bytes (AESKey) and
// MediaSequenceNumber but not the KEY's IV attribute.
func IVForSegment(ivAttr string, sequenceNumber int64) []byte {
	if ivAttr != "" {
		hexPart := strings.TrimPrefix(strings.ToLower(ivAttr), "0x")
		iv := make([]byte, 16)
		for i := 0; i+1 < len(hexPart) && i/2 < 16; i += 2 {
			b, err := strconv.ParseUint(hexPart[i:i+2], 16, 8)
			if err != nil {
				break
			}
			iv[i/2] = byte(b)
		}
		return iv
	}
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], uint64(sequenceNumber))
	return iv
}

func fetchKeyBytes(ctx context.Context, keyURI string, fetcher fetch.Fetcher) ([]byte, error) {
	if keyURI == "" {
		return nil, errUnsupportedMethod{method: "AES-128 (missing URI)"}
	}
	resp, err := fetcher.Request(ctx, fetch.RequestKey, keyURI, http.MethodGet, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}
