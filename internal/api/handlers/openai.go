// Package handlers implements the OpenAI-compatible HTTP endpoints: model
// listing and chat completions, streaming and non-streaming.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/qwenverse/qwenbridge/internal/config"
	"github.com/qwenverse/qwenbridge/internal/gateway"
	"github.com/qwenverse/qwenbridge/internal/interfaces"
	"github.com/qwenverse/qwenbridge/internal/logging"
)

// modelCatalog lists the base upstream models exposed through /v1/models.
// Mode suffixes (-image, -image_edit, -video) and feature suffixes (-search,
// -thinking) combine with any of them.
var modelCatalog = []string{
	"qwen3-max",
	"qwen3-coder-plus",
	"qwen3-vl-plus",
	"qwen3-omni-flash",
}

// ErrorDetail is the inner error object of an OpenAI-style error response.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// OpenAIHandler serves the OpenAI-compatible endpoints.
type OpenAIHandler struct {
	orchestrator *gateway.Orchestrator
	streaming    config.StreamingConfig
}

// NewOpenAIHandler creates the handler set.
func NewOpenAIHandler(orchestrator *gateway.Orchestrator, streaming config.StreamingConfig) *OpenAIHandler {
	return &OpenAIHandler{orchestrator: orchestrator, streaming: streaming}
}

// Models handles GET /v1/models.
func (h *OpenAIHandler) Models(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(modelCatalog))
	for _, id := range modelCatalog {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "qwenbridge",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// ChatCompletions handles POST /v1/chat/completions, dispatching to the
// streaming or non-streaming path based on the request's stream flag.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), "invalid_request_error")
		return
	}
	if !gjson.ValidBytes(rawJSON) {
		writeError(c, http.StatusBadRequest, "request body is not valid JSON", "invalid_request_error")
		return
	}
	if gjson.GetBytes(rawJSON, "model").String() == "" {
		writeError(c, http.StatusBadRequest, "model is required", "invalid_request_error")
		return
	}

	if gjson.GetBytes(rawJSON, "stream").Bool() {
		h.handleStreaming(c, rawJSON)
		return
	}
	h.handleNonStreaming(c, rawJSON)
}

func (h *OpenAIHandler) handleNonStreaming(c *gin.Context, rawJSON []byte) {
	ctx := c.Request.Context()
	stopKeepAlive := h.startNonStreamKeepAlive(c, ctx)
	result, errMsg := h.orchestrator.Complete(ctx, rawJSON)
	stopKeepAlive()
	if errMsg != nil {
		writeErrorMessage(c, errMsg)
		return
	}

	body := []byte(`{"object":"chat.completion"}`)
	body, _ = sjson.SetBytes(body, "id", "chatcmpl-"+uuid.NewString())
	body, _ = sjson.SetBytes(body, "created", time.Now().Unix())
	body, _ = sjson.SetBytes(body, "model", result.Model)
	body, _ = sjson.SetBytes(body, "choices.0.index", 0)
	body, _ = sjson.SetBytes(body, "choices.0.message.role", "assistant")
	body, _ = sjson.SetBytes(body, "choices.0.message.content", result.Content)
	body, _ = sjson.SetBytes(body, "choices.0.finish_reason", "stop")
	c.Data(http.StatusOK, "application/json", body)
}

func (h *OpenAIHandler) handleStreaming(c *gin.Context, rawJSON []byte) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "streaming not supported by connection", "server_error")
		return
	}

	ctx := c.Request.Context()
	result, errMsg := h.orchestrator.CompleteStream(ctx, rawJSON)
	if errMsg != nil {
		// Nothing flushed yet: surface a proper status and JSON body.
		writeErrorMessage(c, errMsg)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher.Flush()

	responseID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	var keepAlive <-chan time.Time
	if h.streaming.KeepAliveSeconds > 0 {
		ticker := time.NewTicker(time.Duration(h.streaming.KeepAliveSeconds) * time.Second)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// Caller disconnected; the orchestrator cancels upstream via ctx.
			return
		case <-keepAlive:
			_, _ = fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case frame, open := <-result.Frames:
			if !open {
				_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			chunk := streamChunk(responseID, result.Model, created, frame.Delta, frame.Final)
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
			flusher.Flush()
		}
	}
}

// streamChunk serializes one outward frame as an OpenAI chat.completion.chunk.
func streamChunk(id, model string, created int64, delta string, final bool) []byte {
	body := []byte(`{"object":"chat.completion.chunk"}`)
	body, _ = sjson.SetBytes(body, "id", id)
	body, _ = sjson.SetBytes(body, "created", created)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "choices.0.index", 0)
	if delta != "" {
		body, _ = sjson.SetBytes(body, "choices.0.delta.content", delta)
	} else {
		body, _ = sjson.SetRawBytes(body, "choices.0.delta", []byte(`{}`))
	}
	if final {
		body, _ = sjson.SetBytes(body, "choices.0.finish_reason", "stop")
	} else {
		body, _ = sjson.SetRawBytes(body, "choices.0.finish_reason", []byte(`null`))
	}
	return body
}

// startNonStreamKeepAlive emits blank lines while a non-streaming response is
// pending so intermediaries do not drop the connection. The returned stop
// function must be called before writing the final response.
func (h *OpenAIHandler) startNonStreamKeepAlive(c *gin.Context, ctx context.Context) func() {
	interval := time.Duration(h.streaming.NonStreamKeepAliveSeconds) * time.Second
	if interval <= 0 {
		return func() {}
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return func() {}
	}

	stopChan := make(chan struct{})
	var stopOnce sync.Once
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = c.Writer.Write([]byte("\n"))
				flusher.Flush()
			}
		}
	}()

	return func() {
		stopOnce.Do(func() { close(stopChan) })
		wg.Wait()
	}
}

func writeError(c *gin.Context, status int, message, errType string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

func writeErrorMessage(c *gin.Context, errMsg *interfaces.ErrorMessage) {
	status := errMsg.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	errType := "server_error"
	switch {
	case status == http.StatusUnauthorized:
		errType = "authentication_error"
	case status == http.StatusTooManyRequests:
		errType = "rate_limit_error"
	case status >= 400 && status < 500:
		errType = "invalid_request_error"
	case status == http.StatusBadGateway:
		errType = "upstream_error"
	}
	logging.FromContext(c.Request.Context()).WithField("status", status).Warnf("request failed: %v", errMsg.Error)
	for key, values := range errMsg.Addon {
		for _, value := range values {
			c.Header(key, value)
		}
	}
	writeError(c, status, errMsg.Error.Error(), errType)
}
