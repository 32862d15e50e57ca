package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	qualityLabel = regexp.MustCompile(`^\d{3,4}p$`)
	heightCapRe  = regexp.MustCompile(`height<=(\d+)`)
)

// SelectorFor translates a quality label into a yt-dlp format expression.
// Labels like "720p" request the best stream within that height plus the
// best audio, degrading to the overall best. Anything that is not a known
// label passes through as a raw expression.
func SelectorFor(selector string) string {
	s := strings.TrimSpace(selector)
	switch {
	case s == "" || s == "best":
		return "best+bestaudio/best"
	case s == "worst":
		return "worst"
	case qualityLabel.MatchString(s):
		h := strings.TrimSuffix(s, "p")
		return fmt.Sprintf("best[height<=%s]+bestaudio/best[height<=%s]/best", h, h)
	default:
		return s
	}
}

// FallbackLadder returns the quality rungs to attempt for a requested
// selector: the user's choice first, then 480p, then 720p, then the
// lowest available encoding. Rungs that repeat an earlier one are
// dropped, so each selector is attempted at most once.
func FallbackLadder(selector string) []string {
	rungs := []string{selector, "480p", "720p", "worst"}
	seen := make(map[string]bool, len(rungs))
	out := make([]string, 0, len(rungs))
	for _, r := range rungs {
		r = strings.TrimSpace(r)
		if r == "" {
			r = "best"
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// HeightCap extracts the pixel-height ceiling a selector implies; 0 means
// unconstrained. Both bare labels ("480p") and raw yt-dlp expressions
// ("best[height<=480]") carry one.
func HeightCap(selector string) int {
	s := strings.TrimSpace(selector)
	if qualityLabel.MatchString(s) {
		n, _ := strconv.Atoi(strings.TrimSuffix(s, "p"))
		return n
	}
	if m := heightCapRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}
