// Package extract defines how media sources are interrogated and
// downloaded. Concrete backends live in the subpackages; callers program
// against the Resolver and Fetcher interfaces.
package extract

import "context"

// VideoInfo is a resolver's answer for one media URL. Duration is the
// display string the API serves, not a raw number.
type VideoInfo struct {
	Title     string   `json:"title"`
	Duration  string   `json:"duration"`
	Thumbnail string   `json:"thumbnail"`
	Formats   []Format `json:"formats"`
}

// Format describes one downloadable encoding of the media.
type Format struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Filesize   int64  `json:"filesize,omitempty"`
	VCodec     string `json:"vcodec"`
	ACodec     string `json:"acodec"`
}

// Sample is one raw progress observation from a transfer in flight.
// TotalBytes is 0 when the source cannot size the transfer, Rate is
// bytes per second and 0 when unknown.
type Sample struct {
	DownloadedBytes int64
	TotalBytes      int64
	Rate            float64
}

// ProgressFunc receives samples during a fetch. Implementations must not
// block; the transfer stalls while one runs.
type ProgressFunc func(Sample)

// Resolver enumerates what a URL offers without downloading it.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*VideoInfo, error)
}

// Fetcher downloads the encoding chosen by selector into dir and returns
// the path of the produced file.
type Fetcher interface {
	Fetch(ctx context.Context, url, selector, dir string, onProgress ProgressFunc) (string, error)
}

// Backend bundles the two capabilities every media source must provide.
type Backend interface {
	Resolver
	Fetcher
}
