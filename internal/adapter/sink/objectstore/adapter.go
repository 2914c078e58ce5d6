// Package objectstore writes one JSON object per event to an S3-compatible
// bucket. The object key is a pure function of the event, so a replay lands
// on the same key; an existence probe before each put keeps the write
// idempotent without object versioning.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"

	"github.com/user/market-ingestor/internal/domain"
)

// objectAPI is the slice of the object-store client the adapter needs.
type objectAPI interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Adapter implements the object-store sink.
type Adapter struct {
	store  objectAPI
	logger *slog.Logger
}

func NewAdapter(client *minio.Client, bucket string, logger *slog.Logger) *Adapter {
	return newAdapter(&minioAPI{client: client, bucket: bucket}, logger)
}

func newAdapter(store objectAPI, logger *slog.Logger) *Adapter {
	return &Adapter{store: store, logger: logger.With("component", "sink_objectstore")}
}

func (a *Adapter) Name() string { return "objectstore" }

// ObjectKey derives the deterministic key {source}/{yyyy-mm-dd}/{event_id}.json.
// The date component comes from the event time in UTC.
func ObjectKey(event domain.Event) string {
	return fmt.Sprintf("%s/%s/%s.json", event.Source, event.EventTime.UTC().Format("2006-01-02"), event.ID)
}

// Write stores the event at its deterministic key unless it already exists.
func (a *Adapter) Write(ctx context.Context, event domain.Event) (domain.SinkResult, error) {
	key := ObjectKey(event)

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return domain.SinkFailed, fmt.Errorf("probe object %s: %w", key, err)
	}
	if exists {
		a.logger.Debug("object already present, skipping", "key", key)
		return domain.SinkSkippedDuplicate, nil
	}

	body, err := domain.EncodeEvent(event)
	if err != nil {
		return domain.SinkFailed, err
	}
	if err := a.store.Put(ctx, key, body, "application/json"); err != nil {
		return domain.SinkFailed, fmt.Errorf("put object %s: %w", key, err)
	}
	return domain.SinkWritten, nil
}

// minioAPI adapts a minio client to objectAPI.
type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (m *minioAPI) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}
