package slugify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

// Fallback is returned when a name produces no usable characters.
const Fallback = "company"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Make converts free text into a lowercase, dash separated identifier.
func Make(value string) string {
	s := slug.MakeLang(strings.TrimSpace(value), "en")
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return Fallback
	}
	return s
}

// ExistsFunc reports whether a candidate slug is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// Unique returns base, or base suffixed with -1, -2, ... until exists reports
// the candidate as free.
func Unique(ctx context.Context, base string, exists ExistsFunc) (string, error) {
	candidate := base
	for suffix := 1; ; suffix++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}
