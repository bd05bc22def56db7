// Package logging wires logrus into the gateway: a compact line formatter with
// request IDs, optional rotated file output, and Gin integration.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Formatter renders log entries as
// [2026-08-30 20:14:04] [a1b2c3d4] [info ] [pool.go:120] message key=value
type Formatter struct{}

// logFieldOrder defines the display order for common log fields.
var logFieldOrder = []string{"credential", "model", "mode", "chat_id", "attempt", "status", "error"}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] [%s:%d] %s%s\n",
			timestamp, reqID, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] %s%s\n", timestamp, reqID, level, message, fieldsStr)
	}

	return buffer.Bytes(), nil
}

// Setup configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func Setup(debug bool) {
	setupOnce.Do(func() {
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})
		if debug {
			log.SetLevel(log.DebugLevel)
		}

		gin.DefaultWriter = log.StandardLogger().Writer()
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutput)
	})
}

// EnableFileOutput mirrors log output into a rotated file under dir.
func EnableFileOutput(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	writerMu.Lock()
	defer writerMu.Unlock()
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "qwenbridge.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(log.StandardLogger().Out, logWriter))
}

func closeLogOutput() {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
