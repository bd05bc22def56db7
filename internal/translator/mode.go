// Package translator maps unified chat-completion requests into the variant
// upstream payload shapes required per conversation mode.
package translator

import "strings"

// Mode is the upstream conversation kind (chat_type on the wire).
type Mode string

const (
	// ModeText covers plain-text and vision conversations.
	ModeText Mode = "t2t"
	// ModeImage is text-to-image generation.
	ModeImage Mode = "t2i"
	// ModeImageEdit edits previously produced or supplied images.
	ModeImageEdit Mode = "image_edit"
	// ModeVideo is text-to-video generation.
	ModeVideo Mode = "t2v"
)

// ModelSpec is the result of parsing a model name: the bare upstream model,
// the conversation mode encoded by its suffix, and feature flags.
type ModelSpec struct {
	// Model is the name with all suffix tokens stripped.
	Model string
	// Mode is the conversation mode requested by the suffix, ModeText if none.
	Mode Mode
	// Search enables the upstream web-search feature.
	Search bool
	// Thinking enables the upstream reasoning feature.
	Thinking bool
}

// ParseModel splits suffix tokens off a model name. `-search` and `-thinking`
// are feature flags, not modes; they may appear in any order relative to the
// mode suffix.
func ParseModel(name string) ModelSpec {
	spec := ModelSpec{Model: strings.TrimSpace(name), Mode: ModeText}
	for {
		switch {
		case strings.HasSuffix(spec.Model, "-search"):
			spec.Model = strings.TrimSuffix(spec.Model, "-search")
			spec.Search = true
		case strings.HasSuffix(spec.Model, "-thinking"):
			spec.Model = strings.TrimSuffix(spec.Model, "-thinking")
			spec.Thinking = true
		case strings.HasSuffix(spec.Model, "-image_edit"):
			spec.Model = strings.TrimSuffix(spec.Model, "-image_edit")
			spec.Mode = ModeImageEdit
		case strings.HasSuffix(spec.Model, "-image"):
			spec.Model = strings.TrimSuffix(spec.Model, "-image")
			spec.Mode = ModeImage
		case strings.HasSuffix(spec.Model, "-video"):
			spec.Model = strings.TrimSuffix(spec.Model, "-video")
			spec.Mode = ModeVideo
		default:
			return spec
		}
	}
}

// imageMode reports whether m produces or edits images.
func imageMode(m Mode) bool {
	return m == ModeImage || m == ModeImageEdit || m == ModeVideo
}
