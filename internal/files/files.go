// Package files owns the on-disk layout of downloads: staging
// directories for transfers in flight and final placement of finished
// outputs.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeChars    = regexp.MustCompile(`[<>:"/\\|?*]`)
	fullwidthMarks = regexp.MustCompile("[：，！？]")
)

// SanitizeTitle strips characters that break filenames on common
// filesystems, including their fullwidth CJK counterparts.
func SanitizeTitle(title string) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = fullwidthMarks.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// OutputName builds the final filename for a completed task.
func OutputName(title, quality, ext string) string {
	safe := SanitizeTitle(title)
	if safe == "" {
		safe = "download"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp4"
	}
	quality = SanitizeTitle(quality)
	if quality == "" {
		return fmt.Sprintf("%s.%s", safe, ext)
	}
	return fmt.Sprintf("%s_%s.%s", safe, quality, ext)
}

// MakeStagingDir creates the per-task scratch directory under base.
func MakeStagingDir(base, taskID string) (string, error) {
	dir := filepath.Join(base, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Promote moves a staged download into the downloads directory under its
// final name, copying across filesystems when rename is not possible.
func Promote(stagedPath, downloadsDir, finalName string) (string, error) {
	if err := os.MkdirAll(downloadsDir, 0755); err != nil {
		return "", err
	}
	dst := filepath.Join(downloadsDir, finalName)
	if err := os.Rename(stagedPath, dst); err != nil {
		if copyErr := copyFile(stagedPath, dst); copyErr != nil {
			return "", fmt.Errorf("place output: %w", copyErr)
		}
		os.Remove(stagedPath)
	}
	return dst, nil
}

// Cleanup removes a task's staging directory and anything left in it.
func Cleanup(dir string) {
	_ = os.RemoveAll(dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
