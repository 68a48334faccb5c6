package hls

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/drm"
	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/manifest"
	"github.com/kestrelstream/manifestcore/internal/segment"
	"github.com/kestrelstream/manifestcore/internal/timeline"
	"github.com/kestrelstream/manifestcore/internal/uri"
)

// Parse fetches and parses an M3U8 playlist into a manifest.Manifest, per
// spec.md §4.5's public contract `parse(manifestUri, fetcher) -> Manifest`,
// identical in shape to internal/dash.Parse. If the fetched resource is a
// master playlist every referenced media playlist is fetched and merged in
// eagerly so the returned Manifest's segment indexes are immediately
// usable.
func Parse(ctx context.Context, manifestURI string, fetcher fetch.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	facade := fetch.NewFetchFacade(fetcher)
	body, finalURI, _, err := facade.Request(ctx, fetch.RequestManifest, manifestURI, nil, nil)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryNetwork, manifestURI, err)
	}
	return parseTop(ctx, string(body), finalURI, fetcher, cfg)
}

// Refresh re-fetches every loaded stream's media playlist (the master
// playlist is not re-fetched), merging new segments into the existing
// Streams in place so object identity is preserved, per spec.md §4.5.6 and
// §8 property 4.
func Refresh(ctx context.Context, m *manifest.Manifest, fetcher fetch.Fetcher, cfg *config.Config) error {
	for _, s := range m.AllStreams() {
		if s.SegmentIndex == nil || s.Unloaded {
			continue
		}
		if err := refreshStream(ctx, s, fetcher, cfg, m.Diagnostics); err != nil {
			m.Diagnostics.Add(manifest.NewWarning(manifest.CategoryNetwork, s.ID, err))
		}
	}
	if allEnded(m) {
		m.IsLive = false
	}
	return nil
}

func allEnded(m *manifest.Manifest) bool {
	for _, s := range m.AllStreams() {
		if s.SegmentIndex != nil && !s.Unloaded && !s.Ended {
			return false
		}
	}
	return true
}

func parseTop(ctx context.Context, body, finalURI string, fetcher fetch.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	lines := splitLines(body)
	if len(lines) == 0 || lines[0] != "#EXTM3U" {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, fmt.Errorf("hls: missing #EXTM3U header"))
	}

	m := manifest.NewManifest(finalURI, manifest.SourceHLS)
	m.SequenceMode = cfg.HLS.SequenceMode

	if looksLikeMaster(lines) {
		return parseMasterManifest(ctx, m, body, finalURI, fetcher, cfg)
	}
	return parseMediaAsManifest(ctx, m, body, finalURI, fetcher, cfg)
}

// parseMediaAsManifest handles the case where the fetched resource is
// itself a media playlist (no master), per spec.md §4.5.2.
func parseMediaAsManifest(ctx context.Context, m *manifest.Manifest, body, finalURI string, fetcher fetch.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	chain, err := uri.NewChain(finalURI)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}
	stream := &manifest.Stream{
		ID:       uuid.NewString(),
		Kind:     manifest.KindVideo,
		MimeType: cfg.HLS.MediaPlaylistFullMimeType,
	}
	if err := loadMediaPlaylist(ctx, stream, body, chain, finalURI, fetcher, cfg, m.Diagnostics); err != nil {
		return nil, err
	}
	m.IsLive = stream.SegmentIndex != nil && !stream.Ended
	m.Variants = []*manifest.Variant{{ID: uuid.NewString(), Video: stream, Bandwidth: stream.Bandwidth}}
	m.Timeline = timelineFor(stream, m.IsLive)
	applyRefreshInterval(m)
	return m, nil
}

// applyRefreshInterval sets Manifest.RefreshIntervalSeconds to the shortest
// live stream's target duration, per RFC 8216 §6.3.4's playlist reload
// interval (wait a target-duration before the next reload).
func applyRefreshInterval(m *manifest.Manifest) {
	if !m.IsLive {
		return
	}
	shortest := 0.0
	for _, s := range m.AllStreams() {
		if s.SegmentIndex == nil || s.Ended || s.TargetDurationSeconds <= 0 {
			continue
		}
		if shortest == 0 || s.TargetDurationSeconds < shortest {
			shortest = s.TargetDurationSeconds
		}
	}
	if shortest > 0 {
		m.RefreshIntervalSeconds = &shortest
	}
}

func parseMasterManifest(ctx context.Context, m *manifest.Manifest, body, finalURI string, fetcher fetch.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	doc, err := parseMaster(body)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}
	chain, err := uri.NewChain(finalURI)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}

	if doc.StartOffset != nil {
		m.StartTimeSeconds = doc.StartOffset
	}

	globalDRM := sessionKeyInfos(doc.SessionKeys, cfg.DRM.IgnoreDrmInfo, finalURI, m.Diagnostics)

	cb := manifest.CallbacksFromContext(ctx)
	for _, sd := range doc.SessionData {
		cb.OnEvent(manifest.Event{
			Kind:                manifest.EventSessionData,
			SessionDataID:       sd.ID,
			SessionDataLanguage: sd.Language,
			SessionDataValue:    sd.Value,
			SessionDataURI:      sd.URI,
		})
	}

	renditionsByGroup := map[string][]renditionGroup{}
	for _, r := range doc.Renditions {
		key := r.Type + "|" + r.GroupID
		renditionsByGroup[key] = append(renditionsByGroup[key], r)
	}

	var videoCandidates, audioCandidates, iframeCandidates, imageCandidates []streamInf
	for _, si := range doc.StreamInfs {
		switch {
		case si.IsImage:
			imageCandidates = append(imageCandidates, si)
		case si.IsIFrame:
			iframeCandidates = append(iframeCandidates, si)
		default:
			videoCandidates = append(videoCandidates, si)
		}
	}
	_ = audioCandidates

	var variants []*manifest.Variant
	for _, si := range videoCandidates {
		vs, err := buildVideoVariants(ctx, si, chain, finalURI, fetcher, cfg, renditionsByGroup, globalDRM, m.Diagnostics)
		if err != nil {
			return nil, err
		}
		variants = append(variants, vs...)
	}
	m.Variants = variants

	for _, si := range iframeCandidates {
		if cfg.Streams.DisableIFrames {
			continue
		}
		trick, err := loadVariantStream(ctx, si, manifest.KindVideo, chain, finalURI, fetcher, cfg, m.Diagnostics)
		if err != nil {
			return nil, err
		}
		mainVariant := bestMatchingVariant(variants, si)
		if mainVariant != nil && mainVariant.Video != nil {
			mainVariant.Video.TrickModeVideo = trick
		}
	}

	for _, si := range imageCandidates {
		if cfg.Streams.DisableThumbnails {
			continue
		}
		img, err := loadVariantStream(ctx, si, manifest.KindImage, chain, finalURI, fetcher, cfg, m.Diagnostics)
		if err != nil {
			return nil, err
		}
		m.ImageStreams = append(m.ImageStreams, img)
	}

	for key, group := range renditionsByGroup {
		if !strings.HasPrefix(key, "SUBTITLES|") {
			continue
		}
		for _, r := range group {
			if cfg.Streams.DisableText {
				continue
			}
			m.TextStreams = append(m.TextStreams, buildTextStream(r, chain, finalURI))
		}
	}

	m.IsLive = anyLive(m)
	m.Timeline = timelineForManifest(m)
	applyRefreshInterval(m)
	return m, nil
}

// buildVideoVariants pairs one #EXT-X-STREAM-INF with its audio renditions,
// emitting one Variant per (stream-inf × audio rendition) when the audio
// group has more than one language, per spec.md §4.5.1.
func buildVideoVariants(ctx context.Context, si streamInf, chain *uri.Chain, finalURI string, fetcher fetch.Fetcher, cfg *config.Config, renditionsByGroup map[string][]renditionGroup, globalDRM []*drm.Info, diag *manifest.Diagnostics) ([]*manifest.Variant, error) {
	videoStream, err := loadVariantStream(ctx, si, manifest.KindVideo, chain, finalURI, fetcher, cfg, diag)
	if err != nil {
		return nil, err
	}
	videoStream.DRMInfo = append(videoStream.DRMInfo, globalDRM...)
	videoStream.Encrypted = len(videoStream.DRMInfo) > 0
	applyClosedCaptions(videoStream, si, renditionsByGroup)

	audioRenditions := renditionsByGroup["AUDIO|"+si.Audio]
	if cfg.Streams.DisableAudio || si.Audio == "" || len(audioRenditions) == 0 {
		return []*manifest.Variant{{
			ID:        uuid.NewString(),
			Video:     videoStream,
			Bandwidth: si.effectiveBandwidth(),
			DRMInfo:   videoStream.DRMInfo,
		}}, nil
	}

	var out []*manifest.Variant
	for _, ar := range audioRenditions {
		audioStream, err := loadRenditionStream(ctx, ar, manifest.KindAudio, chain, finalURI, fetcher, cfg, diag)
		if err != nil {
			return nil, err
		}
		out = append(out, &manifest.Variant{
			ID:        uuid.NewString(),
			Video:     videoStream,
			Audio:     audioStream,
			Bandwidth: si.effectiveBandwidth(),
			Language:  audioStream.Language,
			Primary:   ar.Default,
			DRMInfo:   videoStream.DRMInfo,
		})
	}

	if si.SupplementalCodecs != "" && !cfg.HLS.IgnoreSupplementalCodecs {
		enhanced := *videoStream
		enhanced.ID = uuid.NewString()
		enhanced.Codecs = si.SupplementalCodecs
		for _, ar := range audioRenditions {
			audioStream, err := loadRenditionStream(ctx, ar, manifest.KindAudio, chain, finalURI, fetcher, cfg, diag)
			if err != nil {
				return nil, err
			}
			out = append(out, &manifest.Variant{
				ID:        uuid.NewString(),
				Video:     &enhanced,
				Audio:     audioStream,
				Bandwidth: si.effectiveBandwidth(),
			})
		}
	}

	return out, nil
}

func applyClosedCaptions(videoStream *manifest.Stream, si streamInf, renditionsByGroup map[string][]renditionGroup) {
	if si.ClosedCaptions == "" || si.ClosedCaptions == "NONE" {
		return
	}
	for _, r := range renditionsByGroup["CLOSED-CAPTIONS|"+si.ClosedCaptions] {
		videoStream.ClosedCaptions = append(videoStream.ClosedCaptions, manifest.ClosedCaption{
			InstreamID: r.InstreamID,
			Language:   r.Language,
		})
	}
}

func loadVariantStream(ctx context.Context, si streamInf, kind manifest.StreamKind, chain *uri.Chain, finalURI string, fetcher fetch.Fetcher, cfg *config.Config, diag *manifest.Diagnostics) (*manifest.Stream, error) {
	absURI, err := chain.Resolve(si.URI)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}
	s := &manifest.Stream{
		ID:          uuid.NewString(),
		Kind:        kind,
		Codecs:      si.Codecs,
		Bandwidth:   si.effectiveBandwidth(),
		HDR:         si.VideoRange,
		VideoLayout: si.ReqVideoLayout,
		Unloaded:    true,
	}
	if w, h, ok := parseResolution(si.Resolution); ok {
		s.Width, s.Height = w, h
	}
	s.FrameRate = si.FrameRate

	facade := fetch.NewFetchFacade(fetcher)
	mediaBody, mediaFinalURI, _, err := facade.Request(ctx, fetch.RequestManifest, absURI, nil, nil)
	if err != nil {
		diag.Add(manifest.NewWarning(manifest.CategoryNetwork, absURI, err))
		return s, nil
	}
	mediaChain, err := uri.NewChain(mediaFinalURI)
	if err != nil {
		return s, nil
	}
	if err := loadMediaPlaylist(ctx, s, string(mediaBody), mediaChain, mediaFinalURI, fetcher, cfg, diag); err != nil {
		return nil, err
	}
	if s.MimeType == "" {
		var firstURI string
		if s.SegmentIndex != nil && s.SegmentIndex.Len() > 0 {
			firstURI = s.SegmentIndex.Get(0).URIs[0]
		}
		fallback := cfg.HLS.MediaPlaylistFullMimeType
		if kind == manifest.KindImage {
			fallback = "image/jpeg"
		}
		s.MimeType = inferMimeType(ctx, kind, s.Codecs, firstURI, fetcher, fallback)
	}
	return s, nil
}

func loadRenditionStream(ctx context.Context, r renditionGroup, kind manifest.StreamKind, chain *uri.Chain, finalURI string, fetcher fetch.Fetcher, cfg *config.Config, diag *manifest.Diagnostics) (*manifest.Stream, error) {
	s := &manifest.Stream{
		ID:       uuid.NewString(),
		Kind:     kind,
		Language: r.Language,
		Label:    r.Name,
		Forced:   r.Forced,
		Unloaded: true,
	}
	if r.Characteristics != "" {
		s.Roles = strings.Split(r.Characteristics, ",")
	}
	if r.URI == "" {
		return s, nil
	}
	absURI, err := chain.Resolve(r.URI)
	if err != nil {
		return nil, manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}
	facade := fetch.NewFetchFacade(fetcher)
	mediaBody, mediaFinalURI, _, err := facade.Request(ctx, fetch.RequestManifest, absURI, nil, nil)
	if err != nil {
		diag.Add(manifest.NewWarning(manifest.CategoryNetwork, absURI, err))
		return s, nil
	}
	mediaChain, err := uri.NewChain(mediaFinalURI)
	if err != nil {
		return s, nil
	}
	if err := loadMediaPlaylist(ctx, s, string(mediaBody), mediaChain, mediaFinalURI, fetcher, cfg, diag); err != nil {
		return nil, err
	}
	if s.MimeType == "" {
		var firstURI string
		if s.SegmentIndex != nil && s.SegmentIndex.Len() > 0 {
			firstURI = s.SegmentIndex.Get(0).URIs[0]
		}
		s.MimeType = inferMimeType(ctx, kind, s.Codecs, firstURI, fetcher, cfg.HLS.MediaPlaylistFullMimeType)
	}
	return s, nil
}

func buildTextStream(r renditionGroup, chain *uri.Chain, finalURI string) *manifest.Stream {
	s := &manifest.Stream{
		ID:       uuid.NewString(),
		Kind:     manifest.KindText,
		Language: r.Language,
		Label:    r.Name,
		Forced:   r.Forced,
		MimeType: "text/vtt",
		Unloaded: true,
	}
	if abs, err := chain.Resolve(r.URI); err == nil {
		s.ID = abs
	}
	return s
}

// bestMatchingVariant finds the variant whose video stream's resolution
// (then codec) most closely matches an I-FRAME-STREAM-INF row, per
// spec.md §4.5.1.
func bestMatchingVariant(variants []*manifest.Variant, si streamInf) *manifest.Variant {
	w, h, haveRes := parseResolution(si.Resolution)
	var best *manifest.Variant
	bestScore := -1
	for _, v := range variants {
		if v.Video == nil {
			continue
		}
		score := 0
		if haveRes && v.Video.Width == w && v.Video.Height == h {
			score += 2
		}
		if si.Codecs != "" && v.Video.Codecs == si.Codecs {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = v
		}
	}
	return best
}

func sessionKeyInfos(rows []sessionKeyRow, ignoreDRM bool, contextName string, diag *manifest.Diagnostics) []*drm.Info {
	if ignoreDRM || len(rows) == 0 {
		return nil
	}
	var out []*drm.Info
	for _, row := range rows {
		keySystem, ok := drm.KnownKeySystem(row.KeyFormat)
		if !ok {
			diag.Add(manifest.NewWarning(manifest.CategoryUnrecognisedScheme, contextName, errUnrecognisedKeyFormat(row.KeyFormat)))
			continue
		}
		info := drm.NewInfo(keySystem)
		if row.KeyID != "" {
			if kid, err := drm.KeyIDFromHex(row.KeyID); err == nil {
				info.AddKeyID(kid)
			}
		}
		out = append(out, info)
	}
	return out
}

func anyLive(m *manifest.Manifest) bool {
	for _, s := range m.AllStreams() {
		if s.SegmentIndex != nil && !s.Ended {
			return true
		}
	}
	return false
}

func timelineFor(s *manifest.Stream, isLive bool) *timeline.Timeline {
	if !isLive {
		dur := 0.0
		if s.SegmentIndex != nil && s.SegmentIndex.Len() > 0 {
			dur = s.SegmentIndex.Get(s.SegmentIndex.Len() - 1).EndTime
		}
		return timeline.NewVod(dur)
	}
	return timeline.NewLive(0, 0, 0)
}

func timelineForManifest(m *manifest.Manifest) *timeline.Timeline {
	var longest *manifest.Stream
	for _, s := range m.AllStreams() {
		if s.SegmentIndex == nil {
			continue
		}
		if longest == nil || s.SegmentIndex.Len() > longest.SegmentIndex.Len() {
			longest = s
		}
	}
	if longest == nil {
		return timeline.NewVod(0)
	}
	return timelineFor(longest, m.IsLive)
}

func refreshStream(ctx context.Context, s *manifest.Stream, fetcher fetch.Fetcher, cfg *config.Config, diag *manifest.Diagnostics) error {
	if s.RefreshURI == "" {
		return nil
	}
	facade := fetch.NewFetchFacade(fetcher)
	body, finalURI, _, err := facade.Request(ctx, fetch.RequestManifest, s.RefreshURI, nil, nil)
	if err != nil {
		return err
	}
	chain, err := uri.NewChain(finalURI)
	if err != nil {
		return err
	}
	doc, err := parseMedia(string(body), uri.NewVariables())
	if err != nil {
		return err
	}
	refs, err := materialiseSegments(ctx, s.SegmentIndex, doc, chain, fetcher, diag)
	if err != nil {
		return err
	}
	if err := s.SegmentIndex.Merge(refs); err != nil {
		return err
	}
	s.Ended = doc.EndList
	return nil
}

func loadMediaPlaylist(ctx context.Context, s *manifest.Stream, body string, chain *uri.Chain, finalURI string, fetcher fetch.Fetcher, cfg *config.Config, diag *manifest.Diagnostics) error {
	doc, err := parseMedia(body, uri.NewVariables())
	if err != nil {
		return manifest.NewError(manifest.CategoryInvalidXML, finalURI, err)
	}
	idx := segment.NewIndex()
	refs, err := materialiseSegments(ctx, idx, doc, chain, fetcher, diag)
	if err != nil {
		return err
	}
	if err := idx.Append(refs); err != nil {
		return manifest.NewError(manifest.CategoryRequiredAttributeMissing, finalURI, err)
	}
	s.SegmentIndex = idx
	s.Unloaded = false
	s.RefreshURI = finalURI
	s.Ended = doc.EndList
	s.TargetDurationSeconds = doc.TargetDuration
	return nil
}

func materialiseSegments(ctx context.Context, idx *segment.Index, doc *mediaDoc, chain *uri.Chain, fetcher fetch.Fetcher, diag *manifest.Diagnostics) ([]*segment.Reference, error) {
	var refs []*segment.Reference
	var lastByteEnd int64
	var baseline float64
	if idx.Len() > 0 {
		baseline = idx.Get(idx.Len() - 1).EndTime
	}

	for _, d := range doc.Segments {
		abs, err := chain.Resolve(d.URI)
		if err != nil {
			return nil, manifest.NewError(manifest.CategoryInvalidXML, d.URI, err)
		}

		startByte, endByte := int64(0), int64(-1)
		if d.ByteRange != "" {
			length, offset, hasOffset := parseHLSByteRange(d.ByteRange)
			if !hasOffset {
				offset = lastByteEnd
			}
			startByte = offset
			endByte = offset + length - 1
			lastByteEnd = endByte + 1
		}

		var init *segment.InitSegmentReference
		if d.Map != nil {
			mapURI, _ := chain.Resolve(d.Map.URI)
			mStart, mEnd := int64(0), int64(-1)
			if d.Map.ByteRange != "" {
				length, offset, _ := parseHLSByteRange(d.Map.ByteRange)
				mStart, mEnd = offset, offset+length-1
			}
			init = idx.ShareInit(mapURI, mStart, mEnd, "", nil)
		}

		var aesKey []byte
		if len(d.Keys) > 0 && diag != nil {
			_, key, err := resolveKeys(ctx, d.Keys, fetcher, abs, diag)
			if err != nil {
				return nil, err
			}
			aesKey = key
		}

		status := segment.StatusAvailable
		if d.Gap {
			status = segment.StatusMissing
		}

		start := baseline
		if len(refs) > 0 {
			start = refs[len(refs)-1].EndTime
		}
		end := start + d.Duration

		ref := &segment.Reference{
			StartTime:             start,
			EndTime:               end,
			URIs:                  []string{abs},
			StartByte:             startByte,
			EndByte:               endByte,
			InitSegment:           init,
			DiscontinuitySequence: d.DiscontinuitySequence,
			Status:                status,
			AESKey:                aesKey,
			MediaSequenceNumber:   d.MediaSequenceNumber,
		}
		if d.ProgramDateTime != nil {
			ref.SyncTime = float64(d.ProgramDateTime.UnixMilli()) / 1000.0
		}
		for _, p := range d.Parts {
			if p.Preload {
				continue
			}
			partAbs, _ := chain.Resolve(p.URI)
			ref.PartialReferences = append(ref.PartialReferences, segment.PartialReference{
				URI:         partAbs,
				Independent: p.Independent,
			})
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseHLSByteRange(s string) (length, offset int64, hasOffset bool) {
	parts := strings.SplitN(s, "@", 2)
	var l, o int64
	fmt.Sscanf(parts[0], "%d", &l)
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%d", &o)
		return l, o, true
	}
	return l, 0, false
}
