package dash

import (
	"strings"

	"github.com/kestrelstream/manifestcore/internal/drm"
	"github.com/kestrelstream/manifestcore/internal/manifest"
)

// contentProtectionToDRMInfo maps a Representation/AdaptationSet's
// ContentProtection elements to drm.Info values, per spec.md §4.4.2.
// ignoreDRMInfo suppresses emission entirely, matching
// config.DRMConfig.IgnoreDrmInfo. Unknown schemes are recorded as
// CategoryUnrecognisedScheme warnings on diag rather than failing the
// parse.
func contentProtectionToDRMInfo(cps []ContentProtection, ignoreDRMInfo bool, context string, diag *manifest.Diagnostics) []*drm.Info {
	if ignoreDRMInfo || len(cps) == 0 {
		return nil
	}

	var infos []*drm.Info
	var defaultScheme drm.EncryptionScheme
	var defaultKID string

	for _, cp := range cps {
		if cp.SchemeIDURI == "urn:mpeg:dash:mp4protection:2011" {
			defaultScheme = drm.SchemeCENC
			if strings.EqualFold(cp.Value, "cbcs") {
				defaultScheme = drm.SchemeCBCS
			}
			defaultKID = cp.DefaultKID
			continue
		}

		keySystem, ok := drm.KnownKeySystem(cp.SchemeIDURI)
		if !ok {
			diag.Add(manifest.NewWarning(manifest.CategoryUnrecognisedScheme, context,
				errUnrecognisedScheme(cp.SchemeIDURI)))
			continue
		}

		info := drm.NewInfo(keySystem)
		if cp.DefaultKID != "" {
			info.AddKeyID(cp.DefaultKID)
		}
		if cp.Pssh != "" {
			if initData, err := drm.DecodeBase64InitData(cp.Pssh, drm.InitDataCENC); err == nil {
				info.InitData = append(info.InitData, initData)
			}
		}
		infos = append(infos, info)
	}

	if defaultKID != "" {
		for _, info := range infos {
			info.EncryptionScheme = defaultScheme
			info.AddKeyID(defaultKID)
		}
	}

	return infos
}

type schemeError struct{ scheme string }

func (e schemeError) Error() string { return "dash: unrecognised ContentProtection scheme " + e.scheme }

func errUnrecognisedScheme(scheme string) error { return schemeError{scheme: scheme} }
