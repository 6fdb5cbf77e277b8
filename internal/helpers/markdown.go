package helpers

import (
	"regexp"
	"strings"
)

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)

// Fragments that mark decorative assets rather than listing photos.
var imageNoiseFragments = []string{
	"icon", "logo", "avatar", "badge", "button", "sprite", "placeholder",
	"16x16", "32x32", "48x48", "64x64",
}

// FirstImageURL returns the first markdown-embedded image that looks like a
// listing photo, skipping icons, logos and other tiny decorative assets.
// Returns "" when the document has no usable image.
func FirstImageURL(markdown string) string {
	for _, match := range markdownImagePattern.FindAllStringSubmatch(markdown, -1) {
		src := match[1]
		lower := strings.ToLower(src)
		noisy := false
		for _, frag := range imageNoiseFragments {
			if strings.Contains(lower, frag) {
				noisy = true
				break
			}
		}
		if !noisy {
			return src
		}
	}
	return ""
}
