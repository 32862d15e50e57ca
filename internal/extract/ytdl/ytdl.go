// Package ytdl drives the yt-dlp binary through go-ytdlp. It is the
// backend for every URL the native HLS path does not claim.
package ytdl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"vidgrab/internal/extract"
	"vidgrab/internal/format"
)

// progressInterval is how often yt-dlp reports transfer samples.
const progressInterval = 500 * time.Millisecond

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

// ytdlpInfo mirrors the fields of yt-dlp's single-json dump that the
// resolver consumes.
type ytdlpInfo struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Duration  float64       `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Formats   []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Height     int    `json:"height"`
	Width      int    `json:"width"`
	Filesize   int64  `json:"filesize"`
	FormatNote string `json:"format_note"`
	VCodec     string `json:"vcodec"`
	ACodec     string `json:"acodec"`
}

func (b *Backend) Resolve(ctx context.Context, url string) (*extract.VideoInfo, error) {
	dl := ytdlp.New().
		SkipDownload().
		NoPlaylist().
		DumpSingleJSON()

	result, err := dl.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolve media info: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &info); err != nil {
		return nil, fmt.Errorf("parse media info: %w", err)
	}
	return buildVideoInfo(&info), nil
}

func (b *Backend) Fetch(ctx context.Context, url, selector, dir string, onProgress extract.ProgressFunc) (string, error) {
	tmpl := filepath.Join(dir, "%(id)s.%(ext)s")

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Format(extract.SelectorFor(selector)).
		Output(tmpl)

	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if onProgress == nil {
			return
		}
		var rate float64
		if !update.Started.IsZero() {
			if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
				rate = float64(update.DownloadedBytes) / elapsed
			}
		}
		onProgress(extract.Sample{
			DownloadedBytes: int64(update.DownloadedBytes),
			TotalBytes:      int64(update.TotalBytes),
			Rate:            rate,
		})
	})

	result, err := dl.Run(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w", selector, err)
	}

	if path := reportedFile(result); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return pickStagedFile(dir)
}

// reportedFile pulls the output path yt-dlp reported, when it did.
func reportedFile(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		return ""
	}
	return *info[0].Filename
}

// pickStagedFile falls back to scanning the staging directory when
// yt-dlp does not report the merged output, preferring container
// formats players handle best.
func pickStagedFile(dir string) (string, error) {
	candidates, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return "", err
	}
	var files []string
	for _, c := range candidates {
		switch strings.ToLower(filepath.Ext(c)) {
		case ".part", ".ytdl", ".tmp":
			continue
		}
		files = append(files, c)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("transfer finished but produced no file in %s", dir)
	}
	sort.SliceStable(files, func(i, j int) bool {
		pi, pj := extPriority(filepath.Ext(files[i])), extPriority(filepath.Ext(files[j]))
		if pi != pj {
			return pi < pj
		}
		return files[i] < files[j]
	})
	return files[0], nil
}

func extPriority(ext string) int {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4":
		return 0
	case "mkv":
		return 1
	case "webm":
		return 2
	case "mov":
		return 3
	default:
		return 9
	}
}

// qualityHeights are the rungs offered to clients, matching the player
// menus the frontend renders.
var qualityHeights = []int{1080, 720, 480, 360, 240}

// buildVideoInfo condenses yt-dlp's format zoo into one entry per listed
// height: the largest mp4 or webm stream at that height, addressed by a
// height-capped expression so the fetch stays codec-agnostic.
func buildVideoInfo(info *ytdlpInfo) *extract.VideoInfo {
	available := make(map[int]bool)
	for _, f := range info.Formats {
		if f.Height > 0 && f.VCodec != "" && f.VCodec != "none" {
			available[f.Height] = true
		}
	}

	var formats []extract.Format
	for _, height := range qualityHeights {
		if !available[height] {
			continue
		}
		var best *ytdlpFormat
		for i := range info.Formats {
			f := &info.Formats[i]
			if f.Height != height || f.VCodec == "" || f.VCodec == "none" {
				continue
			}
			if f.Ext != "mp4" && f.Ext != "webm" {
				continue
			}
			if best == nil || f.Filesize > best.Filesize {
				best = f
			}
		}
		if best == nil {
			continue
		}
		formats = append(formats, extract.Format{
			FormatID:   fmt.Sprintf("best[height<=%d]", height),
			Ext:        best.Ext,
			Resolution: resolutionString(best),
			Filesize:   best.Filesize,
			VCodec:     best.VCodec,
			ACodec:     "bestaudio",
		})
	}

	// No listed height matched: surface the first workable stream so the
	// client still has something to request.
	if len(formats) == 0 {
		for i := range info.Formats {
			f := &info.Formats[i]
			if f.VCodec == "" || f.VCodec == "none" {
				continue
			}
			if f.Ext != "mp4" && f.Ext != "webm" {
				continue
			}
			formats = append(formats, extract.Format{
				FormatID:   f.FormatID,
				Ext:        f.Ext,
				Resolution: resolutionString(f),
				Filesize:   f.Filesize,
				VCodec:     f.VCodec,
				ACodec:     "bestaudio",
			})
			break
		}
	}

	sort.SliceStable(formats, func(i, j int) bool {
		hi, hj := resolutionHeight(formats[i].Resolution), resolutionHeight(formats[j].Resolution)
		if hi != hj {
			return hi > hj
		}
		return formatExtRank(formats[i].Ext) < formatExtRank(formats[j].Ext)
	})

	title := info.Title
	if title == "" {
		title = "Unknown Title"
	}
	return &extract.VideoInfo{
		Title:     title,
		Duration:  format.Duration(int64(info.Duration)),
		Thumbnail: info.Thumbnail,
		Formats:   formats,
	}
}

func resolutionString(f *ytdlpFormat) string {
	switch {
	case f.Height > 0:
		return fmt.Sprintf("%dp", f.Height)
	case f.FormatNote != "":
		return f.FormatNote
	default:
		return "Unknown"
	}
}

func resolutionHeight(res string) int {
	if !strings.HasSuffix(res, "p") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(res, "p"))
	if err != nil {
		return 0
	}
	return n
}

func formatExtRank(ext string) int {
	if ext == "mp4" {
		return 0
	}
	return 1
}
