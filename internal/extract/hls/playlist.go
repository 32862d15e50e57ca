package hls

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"vidgrab/internal/extract"
)

// PlaylistType identifies the structure of an HLS playlist.
type PlaylistType int

const (
	Master PlaylistType = iota
	Media
	Unknown
)

// parsePlaylist parses playlist content and classifies it.
func parsePlaylist(content io.Reader) (m3u8.Playlist, PlaylistType, error) {
	playlist, listType, err := m3u8.DecodeFrom(content, true)
	if err != nil {
		return nil, Unknown, err
	}

	switch listType {
	case m3u8.MASTER:
		return playlist, Master, nil
	case m3u8.MEDIA:
		return playlist, Media, nil
	default:
		return nil, Unknown, fmt.Errorf("unknown playlist type")
	}
}

// resolveURL resolves a possibly relative reference against a base URL.
func resolveURL(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// variantHeight parses the pixel height out of a variant's RESOLUTION
// attribute, 0 when absent or malformed.
func variantHeight(v *m3u8.Variant) int {
	res := v.Resolution
	i := strings.IndexByte(res, 'x')
	if i < 0 {
		return 0
	}
	h, err := strconv.Atoi(res[i+1:])
	if err != nil {
		return 0
	}
	return h
}

// pickVariant chooses the master-playlist variant a selector asks for:
// the lowest bandwidth for worst, the highest bandwidth within the
// height cap otherwise. A cap nothing satisfies is an error, so the
// caller's fallback ladder can move on.
func pickVariant(variants []*m3u8.Variant, selector string) (*m3u8.Variant, error) {
	var live []*m3u8.Variant
	for _, v := range variants {
		if v != nil && v.URI != "" {
			live = append(live, v)
		}
	}
	if len(live) == 0 {
		return nil, errors.New("master playlist has no variants")
	}

	if strings.TrimSpace(selector) == "worst" {
		least := live[0]
		for _, v := range live {
			if v.Bandwidth < least.Bandwidth {
				least = v
			}
		}
		return least, nil
	}

	candidates := live
	if limit := extract.HeightCap(selector); limit > 0 {
		var within []*m3u8.Variant
		for _, v := range live {
			if h := variantHeight(v); h > 0 && h <= limit {
				within = append(within, v)
			}
		}
		if len(within) == 0 {
			return nil, fmt.Errorf("no variant within %dp", limit)
		}
		candidates = within
	}

	best := candidates[0]
	for _, v := range candidates {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, nil
}

// masterFormats lists a master playlist's variants as downloadable
// formats, highest first.
func masterFormats(pl *m3u8.MasterPlaylist) []extract.Format {
	var formats []extract.Format
	for _, v := range pl.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		height := variantHeight(v)
		id := fmt.Sprintf("hls-%d", v.Bandwidth)
		resolution := "Unknown"
		if height > 0 {
			id = fmt.Sprintf("hls-%dp", height)
			resolution = fmt.Sprintf("%dp", height)
		}
		vcodec, acodec := splitCodecs(v.Codecs)
		formats = append(formats, extract.Format{
			FormatID:   id,
			Ext:        "ts",
			Resolution: resolution,
			VCodec:     vcodec,
			ACodec:     acodec,
		})
	}
	sort.SliceStable(formats, func(i, j int) bool {
		return heightOf(formats[i].Resolution) > heightOf(formats[j].Resolution)
	})
	return formats
}

func heightOf(resolution string) int {
	if !strings.HasSuffix(resolution, "p") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(resolution, "p"))
	if err != nil {
		return 0
	}
	return n
}

// splitCodecs splits a CODECS attribute like "avc1.64001f,mp4a.40.2"
// into its video and audio halves.
func splitCodecs(codecs string) (string, string) {
	vcodec, acodec := "unknown", "unknown"
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		switch {
		case strings.HasPrefix(c, "avc") || strings.HasPrefix(c, "hvc") || strings.HasPrefix(c, "hev") || strings.HasPrefix(c, "vp"):
			vcodec = c
		case strings.HasPrefix(c, "mp4a") || strings.HasPrefix(c, "ac-3") || strings.HasPrefix(c, "ec-3") || strings.HasPrefix(c, "opus"):
			acodec = c
		}
	}
	return vcodec, acodec
}

// totalDuration sums the media playlist's segment durations in seconds.
func totalDuration(pl *m3u8.MediaPlaylist) float64 {
	var total float64
	for _, seg := range pl.Segments {
		if seg == nil {
			continue
		}
		total += seg.Duration
	}
	return total
}
