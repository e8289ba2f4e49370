package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// ObjectStore is the subset of *minio.Client the exporter needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Exporter dumps a room's play history to object storage as NDJSON.
type Exporter struct {
	recorder *Recorder
	store    ObjectStore
	bucket   string
	now      func() time.Time
}

func NewExporter(recorder *Recorder, store ObjectStore, bucket string) *Exporter {
	return &Exporter{recorder: recorder, store: store, bucket: bucket, now: time.Now}
}

// Export writes every history row of the room and returns the object name.
func (e *Exporter) Export(ctx context.Context, roomID uuid.UUID) (string, error) {
	hs, err := e.recorder.List(ctx, roomID, 0)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, h := range hs {
		if err := enc.Encode(h); err != nil {
			return "", fmt.Errorf("failed to encode history: %w", err)
		}
	}

	objectName := fmt.Sprintf("history/%s/%s.ndjson", roomID, e.now().UTC().Format("20060102T150405Z"))
	_, err = e.store.PutObject(ctx, e.bucket, objectName, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload history: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("room_id", roomID.String()).
		Str("object", objectName).
		Int("rows", len(hs)).
		Msg("history exported")
	return objectName, nil
}
