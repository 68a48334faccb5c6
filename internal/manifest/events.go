package manifest

import "context"

// EventKind identifies the category of an out-of-band Event delivered to
// Callbacks.OnEvent, per spec.md §6.
type EventKind string

const (
	// EventSessionData corresponds to HLS #EXT-X-SESSION-DATA.
	EventSessionData EventKind = "sessiondata"
	// EventEMSG corresponds to an in-band DASH 'emsg' box.
	EventEMSG EventKind = "emsg"
	// EventTimelineRegionAdded corresponds to a DASH EventStream entry.
	EventTimelineRegionAdded EventKind = "timelineregionadded"
	// EventMetadata corresponds to HLS #EXT-X-DATERANGE or
	// com.apple.hls.interstitial.
	EventMetadata EventKind = "metadata"
)

// Event is a single out-of-band signal surfaced alongside the Manifest
// model, per spec.md §6.
type Event struct {
	Kind EventKind

	// SessionData fields (EventSessionData).
	SessionDataID       string
	SessionDataLanguage string
	SessionDataValue    string
	SessionDataURI      string

	// EMSG fields (EventEMSG).
	SchemeIDURI      string
	EMSGValue        string
	Timescale        uint32
	PresentationTime uint64
	EventDuration    uint32
	EMSGID           uint32
	MessageData      []byte

	// TimelineRegionAdded / Metadata shared fields.
	StartTime    float64
	EndTime      *float64
	MetadataType string
	Values       map[string]string
}

// Callbacks is the set of collaborator hooks a parser and the update
// scheduler invoke while parsing or refreshing a Manifest, per spec.md §6
// "Player callbacks". Implementations must be safe to call from the
// manifest thread synchronously; long-running work should be dispatched
// elsewhere by the implementation.
type Callbacks interface {
	// OnEvent delivers an out-of-band Event.
	OnEvent(event Event)
	// OnError delivers a non-fatal warning; parsing continues.
	OnError(err *Error)
	// OnManifestUpdated fires after every successful live refresh.
	OnManifestUpdated()
	// IsLowLatencyMode reports whether the player wants low-latency HLS
	// parts requested where available.
	IsLowLatencyMode() bool
	// GetBandwidthEstimate returns the player's current bandwidth estimate
	// in bits/second. The content-steering client does not consult it.
	GetBandwidthEstimate() int64
	// NewDRMInfo fires when a Stream's DRM info is discovered or changes.
	NewDRMInfo(stream *Stream)
	// OnMetadata delivers timed metadata distinct from Event (ID3-in-HLS,
	// DASH inband events already surfaced via OnEvent with EventEMSG use
	// this instead when the caller wants cue-level granularity).
	OnMetadata(metadataType string, startTime float64, endTime *float64, values map[string]string)
}

// NoopCallbacks is a Callbacks implementation whose methods do nothing,
// useful as an embeddable base for callers that only care about a subset
// of hooks, and in tests.
type NoopCallbacks struct{}

func (NoopCallbacks) OnEvent(Event)                                                  {}
func (NoopCallbacks) OnError(*Error)                                                 {}
func (NoopCallbacks) OnManifestUpdated()                                             {}
func (NoopCallbacks) IsLowLatencyMode() bool                                         { return false }
func (NoopCallbacks) GetBandwidthEstimate() int64                                    { return 0 }
func (NoopCallbacks) NewDRMInfo(*Stream)                                             {}
func (NoopCallbacks) OnMetadata(string, float64, *float64, map[string]string)        {}

// contextKey is unexported to avoid collisions with other packages' context
// keys, following the convention used by internal/observability.
type contextKey int

const callbacksContextKey contextKey = iota

// ContextWithCallbacks attaches cb to ctx so deeply nested parser helpers
// can reach it without threading it through every function signature.
func ContextWithCallbacks(ctx context.Context, cb Callbacks) context.Context {
	return context.WithValue(ctx, callbacksContextKey, cb)
}

// CallbacksFromContext retrieves the Callbacks attached by
// ContextWithCallbacks, or NoopCallbacks{} if none was attached.
func CallbacksFromContext(ctx context.Context) Callbacks {
	if cb, ok := ctx.Value(callbacksContextKey).(Callbacks); ok {
		return cb
	}
	return NoopCallbacks{}
}
