package services

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"estatehub/internal/gateway"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// EventArchive keeps a copy of every verified webhook body.
type EventArchive interface {
	Archive(ctx context.Context, event *gateway.Event, payload []byte) error
	EnsureBucket(ctx context.Context) error
}

type MinioArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type minioEventArchive struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioEventArchive(cfg MinioArchiveConfig) (EventArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioEventArchive{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (a *minioEventArchive) Archive(ctx context.Context, event *gateway.Event, payload []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, archiveObjectKey(event), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"event-id":   event.ID,
			"event-type": event.Type,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive event %s: %w", event.ID, err)
	}
	return nil
}

func (a *minioEventArchive) EnsureBucket(ctx context.Context) error {
	found, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !found {
		return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	}
	return nil
}

// archiveObjectKey lays events out by day and type:
// webhooks/2024/05/01/invoice.paid/evt_123.json
func archiveObjectKey(event *gateway.Event) string {
	created := event.Created.UTC()
	return path.Join("webhooks", created.Format("2006/01/02"), event.Type, event.ID+".json")
}
