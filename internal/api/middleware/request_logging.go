package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qwenverse/qwenbridge/internal/logging"
)

// maxCapturedBodyBytes caps how much of a request or response body is held for
// logging. Everything past the cap still reaches the client untouched.
const maxCapturedBodyBytes = 1 << 20

// captureWriter mirrors response bytes into a bounded buffer while writing
// through to the client. The client write always happens first so capture can
// never add latency or block a stream.
type captureWriter struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	streaming bool
	chunks    int
}

func (w *captureWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	if n > 0 {
		w.chunks++
		if !w.detectStreaming() && w.buf.Len() < maxCapturedBodyBytes {
			limit := maxCapturedBodyBytes - w.buf.Len()
			if limit > n {
				limit = n
			}
			w.buf.Write(data[:limit])
		}
	}
	return n, err
}

func (w *captureWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// detectStreaming checks the response content type once headers are written.
// Streamed bodies are not buffered; only their chunk count is recorded.
func (w *captureWriter) detectStreaming() bool {
	if !w.streaming {
		w.streaming = strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream")
	}
	return w.streaming
}

// RequestLogging records the request body and the (non-streaming) response
// body of chat endpoint calls. enabled is consulted per request so the flag
// can be flipped by a config reload without restarting.
func RequestLogging(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled() || c.Request.Method != "POST" || !strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxCapturedBodyBytes))
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		start := time.Now()
		c.Next()

		entry := logging.FromContext(c.Request.Context()).
			WithField("status", writer.Status()).
			WithField("duration", time.Since(start).Round(time.Millisecond).String())
		if writer.streaming {
			entry.Infof("request log: %s %s request=%s stream_chunks=%d",
				c.Request.Method, c.Request.URL.Path, reqBody, writer.chunks)
			return
		}
		entry.Infof("request log: %s %s request=%s response=%s",
			c.Request.Method, c.Request.URL.Path, reqBody, writer.buf.Bytes())
	}
}
