package translator

import (
	"fmt"
	"strconv"
	"strings"
)

// aspectRatios maps common generation sizes to the upstream ratio tokens.
var aspectRatios = map[string]string{
	"1024x1024": "1:1",
	"512x512":   "1:1",
	"768x1024":  "3:4",
	"1024x768":  "4:3",
	"720x1280":  "9:16",
	"1280x720":  "16:9",
	"1024x1792": "9:16",
	"1792x1024": "16:9",
}

// AspectRatio maps a requested "WxH" size to an upstream aspect-ratio token.
// Unlisted sizes reduce to their integer ratio; anything unparseable falls
// back to "1:1".
func AspectRatio(size string) string {
	size = strings.ToLower(strings.TrimSpace(size))
	if size == "" {
		return "1:1"
	}
	if ratio, ok := aspectRatios[size]; ok {
		return ratio
	}
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return "1:1"
	}
	width, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return "1:1"
	}
	d := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
