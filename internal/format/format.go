// Package format renders durations, byte counts and rates the way the
// API has always displayed them.
package format

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Duration renders seconds as mm:ss, growing to hh:mm:ss past an hour.
// Zero and negative inputs render as Unknown.
func Duration(seconds int64) string {
	if seconds <= 0 {
		return "Unknown"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// Speed renders a byte rate for progress payloads.
func Speed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}

// Size renders a byte count.
func Size(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(bytes))
}
