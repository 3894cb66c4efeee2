package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gitsignal/incident-engine/internal/models"
)

// S3Archiver writes emitted alerts to object storage for offline analytics,
// at paths like:
//
//	s3://<bucket>/<prefix>/YYYY/MM/DD/<alertID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// Deliver uploads the alert JSON. The object key is derived from CreatedAt so
// day-partitioned queries work without listing the whole bucket.
func (a *S3Archiver) Deliver(ctx context.Context, alert models.Alert) error {
	_, err := a.DeliverAndReturnKey(ctx, alert)
	return err
}

// DeliverAndReturnKey uploads the alert and returns the object key.
func (a *S3Archiver) DeliverAndReturnKey(ctx context.Context, alert models.Alert) (string, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}

	key := a.objectKey(alert)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload alert %s: %w", alert.ID, err)
	}
	return key, nil
}

func (a *S3Archiver) objectKey(alert models.Alert) string {
	ts := alert.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return path.Join(a.prefix, ts.Format("2006/01/02"), alert.ID.String()+".json")
}

// Name implements Sink.
func (a *S3Archiver) Name() string { return "s3" }
