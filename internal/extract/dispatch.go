package extract

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Dispatcher routes each URL to the backend that understands it: direct
// HLS playlists to the native playlist backend, everything else to the
// default one.
type Dispatcher struct {
	def Backend
	hls Backend
}

func NewDispatcher(def, hls Backend) *Dispatcher {
	return &Dispatcher{def: def, hls: hls}
}

// IsPlaylistURL reports whether the URL points at an HLS playlist.
func IsPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".m3u8" || ext == ".m3u"
}

func (d *Dispatcher) pick(rawURL string) Backend {
	if d.hls != nil && IsPlaylistURL(rawURL) {
		return d.hls
	}
	return d.def
}

func (d *Dispatcher) Resolve(ctx context.Context, url string) (*VideoInfo, error) {
	return d.pick(url).Resolve(ctx, url)
}

func (d *Dispatcher) Fetch(ctx context.Context, url, selector, dir string, onProgress ProgressFunc) (string, error) {
	return d.pick(url).Fetch(ctx, url, selector, dir, onProgress)
}
