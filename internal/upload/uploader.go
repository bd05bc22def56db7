// Package upload stores request attachments in an S3-compatible bucket and
// hands back stable fetchable URLs for the translator to reference.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/qwenverse/qwenbridge/internal/config"
)

// uploadTimeout bounds a single attachment upload.
const uploadTimeout = 30 * time.Second

// Store uploads attachments to one bucket. Safe for concurrent use.
type Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// New initializes the attachment store from configuration.
func New(cfg config.UploadConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("upload store: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("upload store: init client: %w", err)
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &Store{client: client, bucket: cfg.Bucket, publicBase: publicBase}, nil
}

// UploadAttachment stores data under filename and returns its fetchable URL.
func (s *Store) UploadAttachment(ctx context.Context, data []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectName := path.Join("attachments", time.Now().UTC().Format("2006-01-02"), filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload store: put %s: %w", objectName, err)
	}
	url := s.publicBase + "/" + objectName
	log.Debugf("upload store: stored %d byte attachment at %s", len(data), url)
	return url, nil
}
