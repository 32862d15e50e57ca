// Package hls downloads HLS streams natively: it parses the playlist,
// picks the variant the selector asks for and concatenates the segments
// into a single transport-stream file.
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"vidgrab/internal/extract"
	"vidgrab/internal/format"
)

// maxPlaylistHops bounds master-to-master indirection so a
// self-referencing playlist cannot loop a worker forever.
const maxPlaylistHops = 4

type Backend struct {
	client  *http.Client
	headers map[string]string
}

func New(headers map[string]string) *Backend {
	return &Backend{
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: headers,
	}
}

func (b *Backend) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}
	return resp, nil
}

func (b *Backend) Resolve(ctx context.Context, rawURL string) (*extract.VideoInfo, error) {
	resp, err := b.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	playlist, kind, err := parsePlaylist(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}

	title := titleFromURL(rawURL)
	switch kind {
	case Master:
		master := playlist.(*m3u8.MasterPlaylist)
		return &extract.VideoInfo{
			Title:    title,
			Duration: "Unknown",
			Formats:  masterFormats(master),
		}, nil
	default:
		media := playlist.(*m3u8.MediaPlaylist)
		return &extract.VideoInfo{
			Title:    title,
			Duration: format.Duration(int64(totalDuration(media))),
			Formats: []extract.Format{{
				FormatID:   "hls",
				Ext:        "ts",
				Resolution: "Unknown",
				VCodec:     "unknown",
				ACodec:     "unknown",
			}},
		}, nil
	}
}

func (b *Backend) Fetch(ctx context.Context, rawURL, selector, dir string, onProgress extract.ProgressFunc) (string, error) {
	return b.fetch(ctx, rawURL, selector, dir, onProgress, maxPlaylistHops)
}

func (b *Backend) fetch(ctx context.Context, rawURL, selector, dir string, onProgress extract.ProgressFunc, hops int) (string, error) {
	if hops <= 0 {
		return "", errors.New("too many nested playlists")
	}

	resp, err := b.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	playlist, kind, err := parsePlaylist(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse playlist: %w", err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	switch kind {
	case Master:
		master := playlist.(*m3u8.MasterPlaylist)
		variant, err := pickVariant(master.Variants, selector)
		if err != nil {
			return "", err
		}
		return b.fetch(ctx, resolveURL(base, variant.URI), selector, dir, onProgress, hops-1)
	default:
		media := playlist.(*m3u8.MediaPlaylist)
		return b.fetchSegments(ctx, base, media, dir, onProgress)
	}
}

// fetchSegments downloads every segment in order into one file. The
// total size is estimated from the mean segment size seen so far, which
// converges on the true size as segments accumulate.
func (b *Backend) fetchSegments(ctx context.Context, base *url.URL, pl *m3u8.MediaPlaylist, dir string, onProgress extract.ProgressFunc) (string, error) {
	if pl.Key != nil && pl.Key.URI != "" {
		return "", errors.New("encrypted playlists are not supported")
	}

	var segments []string
	for _, seg := range pl.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		if seg.Key != nil && seg.Key.URI != "" {
			return "", errors.New("encrypted playlists are not supported")
		}
		segments = append(segments, resolveURL(base, seg.URI))
	}
	if len(segments) == 0 {
		return "", errors.New("media playlist has no segments")
	}

	outPath := filepath.Join(dir, "stream.ts")
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	var written int64
	started := time.Now()
	for i, segURL := range segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := b.copySegment(ctx, out, segURL)
		if err != nil {
			return "", fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err)
		}
		written += n

		if onProgress != nil {
			done := int64(i + 1)
			total := written
			if done < int64(len(segments)) {
				total = written / done * int64(len(segments))
			}
			var rate float64
			if elapsed := time.Since(started).Seconds(); elapsed > 0 {
				rate = float64(written) / elapsed
			}
			onProgress(extract.Sample{
				DownloadedBytes: written,
				TotalBytes:      total,
				Rate:            rate,
			})
		}
	}

	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (b *Backend) copySegment(ctx context.Context, dst io.Writer, segURL string) (int64, error) {
	resp, err := b.get(ctx, segURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(dst, resp.Body)
}

// titleFromURL falls back on the playlist's own name, since HLS carries
// no title metadata.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "stream"
	}
	name := path.Base(u.Path)
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "stream"
	}
	return name
}
