// Package dash parses MPEG-DASH Media Presentation Description (MPD) XML
// into the uniform manifest.Manifest model, per spec.md §4.4. The XML
// struct tree below mirrors the shape used by jun-oku-mpd (pointer
// attributes so "absent" and "zero" are distinguishable, a custom
// (un)marshaler for the XSD's boolean-or-uint unions) extended with the
// elements that tree omits but this engine needs: SegmentBase, SegmentList,
// xlink, UTCTiming, EssentialProperty/Role/Accessibility.
package dash

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// ConditionalUint models an XSD union of xs:unsignedInt and xs:boolean,
// used by @segmentAlignment/@subsegmentAlignment, the same shape
// jun-oku-mpd's ConditionalUint implements.
type ConditionalUint struct {
	u *uint64
	b *bool
}

func (c *ConditionalUint) UnmarshalXMLAttr(attr xml.Attr) error {
	if u, err := strconv.ParseUint(attr.Value, 10, 64); err == nil {
		c.u = &u
		return nil
	}
	if b, err := strconv.ParseBool(attr.Value); err == nil {
		c.b = &b
		return nil
	}
	return fmt.Errorf("dash: invalid ConditionalUint %q", attr.Value)
}

// True reports whether the attribute was present and evaluated truthy
// (either a nonzero uint or a literal "true").
func (c ConditionalUint) True() bool {
	if c.u != nil {
		return *c.u != 0
	}
	if c.b != nil {
		return *c.b
	}
	return false
}

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                   xml.Name    `xml:"MPD"`
	Type                      string      `xml:"type,attr"`
	MinimumUpdatePeriod       string      `xml:"minimumUpdatePeriod,attr"`
	AvailabilityStartTime     string      `xml:"availabilityStartTime,attr"`
	MediaPresentationDuration string      `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string      `xml:"minBufferTime,attr"`
	SuggestedPresentationDelay string     `xml:"suggestedPresentationDelay,attr"`
	TimeShiftBufferDepth      string      `xml:"timeShiftBufferDepth,attr"`
	PublishTime               string      `xml:"publishTime,attr"`
	Profiles                  string      `xml:"profiles,attr"`
	BaseURL                    []BaseURL   `xml:"BaseURL"`
	UTCTimings                 []Descriptor `xml:"UTCTiming"`
	Periods                    []*Period   `xml:"Period"`
}

// IsDynamic reports whether MPD@type="dynamic" (a live presentation).
func (m *MPD) IsDynamic() bool { return m.Type == "dynamic" }

// BaseURL represents a BaseURL element; spec.md §4.4 step 4 concatenates
// these, inheriting from MPD down to Representation.
type BaseURL struct {
	Value string `xml:",chardata"`
}

// Descriptor represents the common SchemeIdUri/Value/Id element shape used
// by ContentProtection, Role, EssentialProperty, SupplementalProperty,
// Accessibility and UTCTiming.
type Descriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
	ID          string `xml:"id,attr"`
}

// Period represents one PeriodType element.
type Period struct {
	ID             string           `xml:"id,attr"`
	Start          string           `xml:"start,attr"`
	Duration       string           `xml:"duration,attr"`
	BaseURL        []BaseURL        `xml:"BaseURL"`
	AdaptationSets []*AdaptationSet `xml:"AdaptationSet"`
	EventStreams   []EventStream    `xml:"EventStream"`
}

// EventStream represents a Period-level EventStream element, per spec.md §6
// "timelineregionadded" events.
type EventStream struct {
	SchemeIDURI string  `xml:"schemeIdUri,attr"`
	Value       string  `xml:"value,attr"`
	Timescale   uint64  `xml:"timescale,attr"`
	Events      []Event `xml:"Event"`
}

// Event represents one EventStream child Event element.
type Event struct {
	ID               string `xml:"id,attr"`
	PresentationTime uint64 `xml:"presentationTime,attr"`
	Duration         uint64 `xml:"duration,attr"`
	MessageData      string `xml:",innerxml"`
}

// AdaptationSet represents one AdaptationSetType element.
type AdaptationSet struct {
	ID                      string              `xml:"id,attr"`
	Group                   string              `xml:"group,attr"`
	MimeType                string              `xml:"mimeType,attr"`
	Lang                    string              `xml:"lang,attr"`
	ContentType             string              `xml:"contentType,attr"`
	SegmentAlignment        ConditionalUint     `xml:"segmentAlignment,attr"`
	Codecs                  string              `xml:"codecs,attr"`
	Width                   string              `xml:"width,attr"`
	Height                  string              `xml:"height,attr"`
	FrameRate               string              `xml:"frameRate,attr"`
	Par                     string              `xml:"par,attr"`
	AudioSamplingRate       string              `xml:"audioSamplingRate,attr"`
	BaseURL                 []BaseURL           `xml:"BaseURL"`
	Roles                   []Descriptor        `xml:"Role"`
	Accessibilities         []Descriptor        `xml:"Accessibility"`
	EssentialProperties     []Descriptor        `xml:"EssentialProperty"`
	SupplementalProperties  []Descriptor        `xml:"SupplementalProperty"`
	ContentProtections      []ContentProtection `xml:"ContentProtection"`
	SegmentBase             *SegmentBase        `xml:"SegmentBase"`
	SegmentList             *SegmentList        `xml:"SegmentList"`
	SegmentTemplate         *SegmentTemplate    `xml:"SegmentTemplate"`
	Representations         []*Representation   `xml:"Representation"`
	Label                   string              `xml:"Label"`
}

// Representation represents one RepresentationType element.
type Representation struct {
	ID                 string              `xml:"id,attr"`
	Bandwidth          uint64              `xml:"bandwidth,attr"`
	Width              string              `xml:"width,attr"`
	Height             string              `xml:"height,attr"`
	FrameRate          string              `xml:"frameRate,attr"`
	Codecs             string              `xml:"codecs,attr"`
	AudioSamplingRate  string              `xml:"audioSamplingRate,attr"`
	ScanType           string              `xml:"scanType,attr"`
	BaseURL            []BaseURL           `xml:"BaseURL"`
	ContentProtections []ContentProtection `xml:"ContentProtection"`
	SegmentBase        *SegmentBase        `xml:"SegmentBase"`
	SegmentList        *SegmentList        `xml:"SegmentList"`
	SegmentTemplate    *SegmentTemplate    `xml:"SegmentTemplate"`
}

// ContentProtection represents one ContentProtectionType element, per
// spec.md §4.4.2.
type ContentProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
	DefaultKID  string `xml:"default_KID,attr"`
	Pssh        string `xml:"pssh"`
}

// SegmentBase represents the SegmentBaseType, per spec.md §4.4.1.
type SegmentBase struct {
	IndexRange             string           `xml:"indexRange,attr"`
	Timescale              uint64           `xml:"timescale,attr"`
	PresentationTimeOffset uint64           `xml:"presentationTimeOffset,attr"`
	Initialization         *URLType         `xml:"Initialization"`
}

// URLType represents a child element carrying a @sourceURL/@range pair
// (Initialization, SegmentURL's media/index children).
type URLType struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentList represents the SegmentListType, per spec.md §4.4.1.
type SegmentList struct {
	Timescale      uint64        `xml:"timescale,attr"`
	Duration       uint64        `xml:"duration,attr"`
	StartNumber    *uint64       `xml:"startNumber,attr"`
	Initialization *URLType      `xml:"Initialization"`
	SegmentURLs    []SegmentURL  `xml:"SegmentURL"`
}

// SegmentURL represents one SegmentURL child of SegmentList.
type SegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
	Index      string `xml:"index,attr"`
	IndexRange string `xml:"indexRange,attr"`
}

// SegmentTemplate represents the SegmentTemplateType, per spec.md §4.4.1.
type SegmentTemplate struct {
	Timescale              uint64            `xml:"timescale,attr"`
	Media                  string            `xml:"media,attr"`
	Initialization         string            `xml:"initialization,attr"`
	StartNumber            *uint64           `xml:"startNumber,attr"`
	PresentationTimeOffset uint64            `xml:"presentationTimeOffset,attr"`
	Duration               uint64            `xml:"duration,attr"`
	SegmentTimeline        *SegmentTimeline  `xml:"SegmentTimeline"`
}

// SegmentTimeline represents the SegmentTimelineType: an explicit list of
// `<S t= d= r=/>` tuples, per spec.md §4.4.1.
type SegmentTimeline struct {
	S []STimelineEntry `xml:"S"`
}

// STimelineEntry represents one `<S>` tuple. T is nil when omitted ("continue
// from previous endTime"); R is nil when omitted (repeat count 0, i.e. this
// entry covers exactly one segment); R == -1 means "repeat until the period
// ends".
type STimelineEntry struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R *int64  `xml:"r,attr"`
}
