package hls

import (
	"strings"

	"github.com/kestrelstream/manifestcore/internal/uri"
)

// sessionKeyRow is one #EXT-X-SESSION-KEY row, global DRM info applied to
// every variant per spec.md §4.5.1.
type sessionKeyRow struct {
	Method    string
	URI       string
	IV        string
	KeyFormat string
	KeyID     string
}

// sessionDataRow is one #EXT-X-SESSION-DATA row.
type sessionDataRow struct {
	ID       string
	Language string
	Value    string
	URI      string
}

// contentSteeringRow is the #EXT-X-CONTENT-STEERING row.
type contentSteeringRow struct {
	ServerURI string
	PathwayID string
}

// masterDoc is the intermediate parse of a master playlist, before pairing
// into manifest.Variant values.
type masterDoc struct {
	Renditions      []renditionGroup
	StreamInfs      []streamInf
	SessionKeys     []sessionKeyRow
	SessionData     []sessionDataRow
	ContentSteering *contentSteeringRow
	StartOffset     *float64
	Vars            uri.Variables
}

// looksLikeMaster reports whether body contains any line only a master
// playlist would have, used to distinguish a bare media playlist fetched
// as the top-level manifest (spec.md §4.5.2).
func looksLikeMaster(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "#EXT-X-STREAM-INF:") ||
			strings.HasPrefix(l, "#EXT-X-I-FRAME-STREAM-INF:") ||
			strings.HasPrefix(l, "#EXT-X-MEDIA:") {
			return true
		}
	}
	return false
}

func parseMaster(body string) (*masterDoc, error) {
	lines := splitLines(body)
	doc := &masterDoc{Vars: uri.NewVariables()}

	var pendingStreamInf *streamInf
	for _, raw := range lines {
		line := doc.Vars.Substitute(raw)
		switch {
		case strings.HasPrefix(line, "#EXT-X-DEFINE:"):
			applyDefine(doc.Vars, attributes(tagValue(line, "#EXT-X-DEFINE:")), line)

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			doc.Renditions = append(doc.Renditions, parseRendition(attributes(tagValue(line, "#EXT-X-MEDIA:"))))

		case strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF:"):
			si := parseStreamInfAttrs(attributes(tagValue(line, "#EXT-X-I-FRAME-STREAM-INF:")))
			si.IsIFrame = true
			doc.StreamInfs = append(doc.StreamInfs, si)

		case strings.HasPrefix(line, "#EXT-X-IMAGE-STREAM-INF:"):
			si := parseStreamInfAttrs(attributes(tagValue(line, "#EXT-X-IMAGE-STREAM-INF:")))
			si.IsImage = true
			doc.StreamInfs = append(doc.StreamInfs, si)

		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			si := parseStreamInfAttrs(attributes(tagValue(line, "#EXT-X-STREAM-INF:")))
			pendingStreamInf = &si

		case pendingStreamInf != nil && !strings.HasPrefix(line, "#"):
			pendingStreamInf.URI = line
			doc.StreamInfs = append(doc.StreamInfs, *pendingStreamInf)
			pendingStreamInf = nil

		case strings.HasPrefix(line, "#EXT-X-SESSION-KEY:"):
			attrs := attributes(tagValue(line, "#EXT-X-SESSION-KEY:"))
			doc.SessionKeys = append(doc.SessionKeys, sessionKeyRow{
				Method:    attrs["METHOD"],
				URI:       attrs["URI"],
				IV:        attrs["IV"],
				KeyFormat: attrs["KEYFORMAT"],
				KeyID:     attrs["KEYID"],
			})

		case strings.HasPrefix(line, "#EXT-X-SESSION-DATA:"):
			attrs := attributes(tagValue(line, "#EXT-X-SESSION-DATA:"))
			doc.SessionData = append(doc.SessionData, sessionDataRow{
				ID:       attrs["DATA-ID"],
				Language: attrs["LANGUAGE"],
				Value:    attrs["VALUE"],
				URI:      attrs["URI"],
			})

		case strings.HasPrefix(line, "#EXT-X-CONTENT-STEERING:"):
			attrs := attributes(tagValue(line, "#EXT-X-CONTENT-STEERING:"))
			doc.ContentSteering = &contentSteeringRow{ServerURI: attrs["SERVER-URI"], PathwayID: attrs["PATHWAY-ID"]}

		case strings.HasPrefix(line, "#EXT-X-START:"):
			attrs := attributes(tagValue(line, "#EXT-X-START:"))
			if v, ok := attrFloat(attrs, "TIME-OFFSET"); ok {
				doc.StartOffset = &v
			}
		}
	}

	return doc, nil
}

func applyDefine(vars uri.Variables, attrs map[string]string, line string) {
	if name, ok := attrs["NAME"]; ok {
		vars[name] = attrs["VALUE"]
		return
	}
	if name, ok := attrs["IMPORT"]; ok {
		// IMPORT references a parent playlist's scope, which a top-level
		// master has none of; accept an unresolved reference silently.
		if _, exists := vars[name]; !exists {
			vars[name] = ""
		}
	}
	_ = line
}

func parseRendition(attrs map[string]string) renditionGroup {
	return renditionGroup{
		Type:            attrs["TYPE"],
		GroupID:         attrs["GROUP-ID"],
		Name:            attrs["NAME"],
		Language:        attrs["LANGUAGE"],
		AssocLanguage:   attrs["ASSOC-LANGUAGE"],
		URI:             attrs["URI"],
		Default:         attrBool(attrs, "DEFAULT"),
		Autoselect:      attrBool(attrs, "AUTOSELECT"),
		Forced:          attrBool(attrs, "FORCED"),
		InstreamID:      attrs["INSTREAM-ID"],
		Channels:        attrs["CHANNELS"],
		Characteristics: attrs["CHARACTERISTICS"],
	}
}

func parseStreamInfAttrs(attrs map[string]string) streamInf {
	si := streamInf{
		Codecs:             attrs["CODECS"],
		SupplementalCodecs: attrs["SUPPLEMENTAL-CODECS"],
		Resolution:         attrs["RESOLUTION"],
		VideoRange:         attrs["VIDEO-RANGE"],
		ReqVideoLayout:     attrs["REQ-VIDEO-LAYOUT"],
		PathwayID:          attrs["PATHWAY-ID"],
		Audio:              attrs["AUDIO"],
		Video:              attrs["VIDEO"],
		Subtitles:          attrs["SUBTITLES"],
		ClosedCaptions:     attrs["CLOSED-CAPTIONS"],
		URI:                attrs["URI"],
	}
	if bw, ok := attrInt(attrs, "BANDWIDTH"); ok {
		si.Bandwidth = bw
	}
	if avg, ok := attrInt(attrs, "AVERAGE-BANDWIDTH"); ok {
		si.AverageBandwidth = avg
	}
	if fr, ok := attrFloat(attrs, "FRAME-RATE"); ok {
		si.FrameRate = fr
	}
	return si
}

// effectiveBandwidth prefers AVERAGE-BANDWIDTH over BANDWIDTH, per
// spec.md §4.5.1.
func (si streamInf) effectiveBandwidth() int {
	if si.AverageBandwidth > 0 {
		return si.AverageBandwidth
	}
	return si.Bandwidth
}

