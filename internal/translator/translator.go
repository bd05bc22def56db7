package translator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/qwenverse/qwenbridge/internal/interfaces"
	"github.com/qwenverse/qwenbridge/internal/logging"
)

// editHistoryLimit caps how many images are pulled from earlier conversation
// turns for an image-edit request, beyond the current message.
const editHistoryLimit = 3

// Uploader stores attachment bytes and returns a stable fetchable URL.
type Uploader interface {
	UploadAttachment(ctx context.Context, data []byte, filename string) (string, error)
}

// Translator builds upstream payloads from unified chat requests. It is
// stateless and safe for concurrent use.
type Translator struct {
	uploader       Uploader
	visionFallback string
}

// New creates a translator. uploader may be nil, in which case inline image
// data is skipped with a warning. visionFallback may be empty to disable the
// vision model substitution.
func New(uploader Uploader, visionFallback string) *Translator {
	return &Translator{uploader: uploader, visionFallback: visionFallback}
}

// Plan is the mode decision for one request, computed before a session opens.
type Plan struct {
	// Spec is the parsed, possibly fallback-substituted model.
	Spec ModelSpec
	// RequestedModel is the inbound model name, echoed back to the caller.
	RequestedModel string
	// Mode is the effective conversation mode.
	Mode Mode
	// UsedFallback records a silent vision-model substitution.
	UsedFallback bool
	// Stream mirrors the inbound streaming flag.
	Stream bool
	// Size is the optional requested generation size ("1024x1024").
	Size string
}

// ChatType returns the wire conversation type. Search rides on text mode as a
// feature, not a mode of its own.
func (p Plan) ChatType() string {
	if p.Mode == ModeText && p.Spec.Search {
		return "search"
	}
	return string(p.Mode)
}

// PlanRequest determines the conversation mode for a raw unified request.
// An image part forces vision-capable text mode unless the model suffix
// explicitly requested an image mode; with a configured fallback vision model
// the effective model is silently substituted so a text-only model name can
// still answer image questions.
func (t *Translator) PlanRequest(rawJSON []byte) Plan {
	spec := ParseModel(gjson.GetBytes(rawJSON, "model").String())
	plan := Plan{
		Spec:           spec,
		RequestedModel: gjson.GetBytes(rawJSON, "model").String(),
		Mode:           spec.Mode,
		Stream:         gjson.GetBytes(rawJSON, "stream").Bool(),
		Size:           gjson.GetBytes(rawJSON, "size").String(),
	}
	if !imageMode(spec.Mode) && hasImagePart(gjson.GetBytes(rawJSON, "messages")) {
		plan.Mode = ModeText
		if t.visionFallback != "" && !strings.EqualFold(spec.Model, t.visionFallback) {
			plan.Spec.Model = t.visionFallback
			plan.UsedFallback = true
		}
	}
	return plan
}

// Build translates the unified request into the upstream payload for the
// opened session. The result always passes Validate.
func (t *Translator) Build(ctx context.Context, plan Plan, rawJSON []byte, chatID string) ([]byte, error) {
	messages := gjson.GetBytes(rawJSON, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, &interfaces.ValidationError{Message: "request carries no messages"}
	}

	payload := []byte(`{"chat_mode":"normal","parent_id":null}`)
	payload, _ = sjson.SetBytes(payload, "chat_id", chatID)
	payload, _ = sjson.SetBytes(payload, "model", plan.Spec.Model)
	payload, _ = sjson.SetBytes(payload, "stream", plan.Stream)
	payload, _ = sjson.SetBytes(payload, "incremental_output", plan.Stream)
	payload, _ = sjson.SetBytes(payload, "timestamp", time.Now().Unix())

	chatType := plan.ChatType()
	var outward []any
	var err error
	switch plan.Mode {
	case ModeImage, ModeVideo:
		outward = []any{t.buildGenerationMessage(plan, messages, chatType, nil)}
		if plan.Mode == ModeImage {
			payload, _ = sjson.SetBytes(payload, "size", AspectRatio(plan.Size))
		}
	case ModeImageEdit:
		refs := t.collectEditImages(ctx, messages)
		if len(refs) == 0 {
			// Every upload failed or nothing usable was supplied: degrade to
			// plain generation instead of failing the request.
			logging.FromContext(ctx).Warn("translator: no usable image reference, degrading image_edit to t2i")
			chatType = string(ModeImage)
			outward = []any{t.buildGenerationMessage(plan, messages, chatType, nil)}
			payload, _ = sjson.SetBytes(payload, "size", AspectRatio(plan.Size))
		} else {
			files := make([]any, 0, len(refs))
			for _, ref := range refs {
				files = append(files, map[string]any{"type": "image", "url": ref})
			}
			outward = []any{t.buildGenerationMessage(plan, messages, chatType, files)}
		}
	default:
		outward, err = t.buildChatMessages(ctx, plan, messages, chatType)
		if err != nil {
			return nil, err
		}
	}

	payload, _ = sjson.SetBytes(payload, "chat_type", chatType)
	payload, err = sjson.SetBytes(payload, "messages", outward)
	if err != nil {
		return nil, fmt.Errorf("translator: assemble messages: %w", err)
	}
	return payload, nil
}

// buildChatMessages carries every inbound message through, resolving image
// parts to stored-file references.
func (t *Translator) buildChatMessages(ctx context.Context, plan Plan, messages gjson.Result, chatType string) ([]any, error) {
	var outward []any
	for _, msg := range messages.Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")
		files := make([]any, 0)
		for _, ref := range imagePartURLs(content) {
			url := t.resolveImageRef(ctx, ref)
			if url == "" {
				continue
			}
			files = append(files, map[string]any{"type": "image", "url": url})
		}
		outward = append(outward, t.newMessage(plan, role, textOfContent(content), chatType, files))
	}
	return outward, nil
}

// buildGenerationMessage shapes the single-message payload used by the image,
// image-edit and video modes: only the last user message's text is used.
func (t *Translator) buildGenerationMessage(plan Plan, messages gjson.Result, chatType string, files []any) any {
	prompt := ""
	arr := messages.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		if arr[i].Get("role").String() == "user" {
			prompt = textOfContent(arr[i].Get("content"))
			break
		}
	}
	if files == nil {
		files = make([]any, 0)
	}
	return t.newMessage(plan, "user", prompt, chatType, files)
}

// newMessage builds one outward-shaped message with a fresh identifier.
func (t *Translator) newMessage(plan Plan, role, content, chatType string, files []any) map[string]any {
	msg := map[string]any{
		"fid":       uuid.NewString(),
		"parentId":  nil,
		"role":      role,
		"content":   content,
		"files":     files,
		"chat_type": chatType,
		"feature_config": map[string]any{
			"thinking_enabled": plan.Spec.Thinking,
			"output_schema":    "phase",
		},
		"extra": map[string]any{
			"meta": map[string]any{"subChatType": chatType},
		},
	}
	if role == "user" {
		msg["user_action"] = "chat"
		msg["models"] = []string{plan.Spec.Model}
		msg["timestamp"] = time.Now().Unix()
	}
	return msg
}

// collectEditImages gathers image references for an image-edit request: every
// image on the last message, then up to editHistoryLimit images found anywhere
// earlier in the conversation, most recent first. Earlier images are located
// both in inline image parts and in markdown image links inside message text.
func (t *Translator) collectEditImages(ctx context.Context, messages gjson.Result) []string {
	arr := messages.Array()
	if len(arr) == 0 {
		return nil
	}

	var refs []string
	current := arr[len(arr)-1]
	for _, ref := range imagePartURLs(current.Get("content")) {
		if url := t.resolveImageRef(ctx, ref); url != "" {
			refs = append(refs, url)
		}
	}

	history := 0
	for i := len(arr) - 2; i >= 0 && history < editHistoryLimit; i-- {
		content := arr[i].Get("content")
		candidates := imagePartURLs(content)
		candidates = append(candidates, markdownImageURLs(textOfContent(content))...)
		for _, ref := range candidates {
			if history >= editHistoryLimit {
				break
			}
			if url := t.resolveImageRef(ctx, ref); url != "" {
				refs = append(refs, url)
				history++
			}
		}
	}
	return refs
}

// resolveImageRef turns an image reference into a fetchable URL: http(s)
// references pass through, inline data URIs are uploaded to the attachment
// store. Returns "" when the reference cannot be used.
func (t *Translator) resolveImageRef(ctx context.Context, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	data, ext, ok := decodeDataURI(ref)
	if !ok {
		logging.FromContext(ctx).Warnf("translator: unsupported image reference %.32q", ref)
		return ""
	}
	if t.uploader == nil {
		logging.FromContext(ctx).Warn("translator: inline image dropped, no upload store configured")
		return ""
	}
	url, err := t.uploader.UploadAttachment(ctx, data, fmt.Sprintf("%s.%s", uuid.NewString(), ext))
	if err != nil {
		logging.FromContext(ctx).Warnf("translator: attachment upload failed: %v", err)
		return ""
	}
	return url
}

// Validate runs the structural check required before dispatch. A failure here
// is always a local validation error, never sent upstream.
func Validate(payload []byte) error {
	messages := gjson.GetBytes(payload, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return &interfaces.ValidationError{Message: "payload carries no messages"}
	}
	for i, msg := range messages.Array() {
		if msg.Get("fid").String() == "" {
			return &interfaces.ValidationError{Message: fmt.Sprintf("message %d missing id", i)}
		}
		if msg.Get("role").String() == "" {
			return &interfaces.ValidationError{Message: fmt.Sprintf("message %d missing role", i)}
		}
		if !msg.Get("content").Exists() {
			return &interfaces.ValidationError{Message: fmt.Sprintf("message %d missing content", i)}
		}
		if msg.Get("role").String() != "user" {
			continue
		}
		if msg.Get("user_action").String() == "" {
			return &interfaces.ValidationError{Message: fmt.Sprintf("user message %d missing user_action", i)}
		}
		if !msg.Get("models").IsArray() || len(msg.Get("models").Array()) == 0 {
			return &interfaces.ValidationError{Message: fmt.Sprintf("user message %d missing models", i)}
		}
		if msg.Get("timestamp").Int() <= 0 {
			return &interfaces.ValidationError{Message: fmt.Sprintf("user message %d missing timestamp", i)}
		}
		if msg.Get("chat_type").String() == "" {
			return &interfaces.ValidationError{Message: fmt.Sprintf("user message %d missing chat_type", i)}
		}
	}
	return nil
}

// StatusFor maps a translation failure to an HTTP status.
func StatusFor(err error) int {
	if interfaces.AsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
