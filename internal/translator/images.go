package translator

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// markdownImagePattern matches inline markdown image links in message text.
var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)

// hasImagePart reports whether any message carries an image content part.
func hasImagePart(messages gjson.Result) bool {
	found := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		if len(imagePartURLs(msg.Get("content"))) > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

// imagePartURLs extracts image references from a message content value, both
// fetchable URLs and inline data URIs, in order.
func imagePartURLs(content gjson.Result) []string {
	if !content.IsArray() {
		return nil
	}
	var urls []string
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "image_url":
			if url := part.Get("image_url.url").String(); url != "" {
				urls = append(urls, url)
			}
		case "image":
			if url := part.Get("url").String(); url != "" {
				urls = append(urls, url)
			}
		}
		return true
	})
	return urls
}

// textOfContent flattens a message content value to plain text: either the
// bare string or all text parts concatenated in order.
func textOfContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			if text := part.Get("text").String(); text != "" {
				parts = append(parts, text)
			}
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// markdownImageURLs extracts image URLs embedded as markdown links in text.
func markdownImageURLs(text string) []string {
	matches := markdownImagePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, match := range matches {
		urls = append(urls, match[1])
	}
	return urls
}

// decodeDataURI splits a data URI into raw bytes and a file extension. The
// second return is false when uri is not an inline data URI.
func decodeDataURI(uri string) ([]byte, string, bool) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", false
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, "", false
	}
	meta := uri[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", false
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, "", false
	}
	ext := "png"
	if mime, _, ok0 := strings.Cut(meta, ";"); ok0 {
		if _, sub, ok1 := strings.Cut(mime, "/"); ok1 && sub != "" {
			ext = sub
		}
	}
	return data, ext, true
}
