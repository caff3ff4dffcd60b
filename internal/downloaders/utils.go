package downloaders

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename replaces filesystem-unsafe characters and collapses
// whitespace runs into a single underscore.
func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		return "untitled"
	}
	return name
}

func formatSpeed(written int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	rate := float64(written) / elapsed.Seconds()
	return humanize.Bytes(uint64(rate)) + "/s"
}

// legacyExtension guesses the container of a single-file stream from its url.
func legacyExtension(mediaURL string) string {
	p := mediaURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".flv", ".mp4":
		return ext
	default:
		return ".flv"
	}
}

func percent(part, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(part))
	}
	return fmt.Sprintf("%d%%", part*100/total)
}
