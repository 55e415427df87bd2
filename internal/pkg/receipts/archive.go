// Package receipts archives approved gateway payment records to an
// S3-compatible bucket for later audit.
package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

// Archiver stores a copy of an approved payment record.
type Archiver interface {
	Archive(ctx context.Context, rec *gateway.PaymentRecord) error
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes receipts as JSON objects.
type S3Archiver struct {
	client objectPutter
	bucket string
}

// NewS3Archiver creates an archiver from the configuration.
func NewS3Archiver(ctx context.Context, cfg *Config) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("receipt archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	logger.Component("receipts").WithField("bucket", cfg.BucketName).Info("receipt archive enabled")
	return &S3Archiver{client: client, bucket: cfg.BucketName}, nil
}

// receipt is the archived document.
type receipt struct {
	PaymentID         string          `json:"paymentId"`
	Status            string          `json:"status"`
	PayerEmail        string          `json:"payerEmail"`
	Amount            string          `json:"amount"`
	ExternalReference string          `json:"externalReference,omitempty"`
	CreatedAt         *time.Time      `json:"createdAt,omitempty"`
	ApprovedAt        *time.Time      `json:"approvedAt,omitempty"`
	ArchivedAt        time.Time       `json:"archivedAt"`
	Gateway           json.RawMessage `json:"gateway,omitempty"`
}

func (a *S3Archiver) Archive(ctx context.Context, rec *gateway.PaymentRecord) error {
	now := time.Now().UTC()
	doc := receipt{
		PaymentID:         rec.ID,
		Status:            rec.Status,
		PayerEmail:        rec.PayerEmail,
		Amount:            rec.Amount.StringFixed(2),
		ExternalReference: rec.ExternalReference,
		CreatedAt:         rec.CreatedAt,
		ApprovedAt:        rec.ApprovedAt,
		ArchivedAt:        now,
		Gateway:           rec.Raw,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	stamp := now
	if rec.ApprovedAt != nil {
		stamp = *rec.ApprovedAt
	}
	key := ObjectKey(rec.ID, stamp)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"payment-id":    rec.ID,
			"upload-source": "fanpass-receipts",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload receipt to S3: %w", err)
	}

	logger.Component("receipts").WithField("payment_id", rec.ID).Infof("archived receipt s3://%s/%s", a.bucket, key)
	return nil
}

// Noop discards receipts when archiving is disabled.
type Noop struct{}

func (Noop) Archive(context.Context, *gateway.PaymentRecord) error { return nil }

// NewFromEnv returns an S3 archiver when enabled and Noop otherwise.
func NewFromEnv(ctx context.Context) Archiver {
	log := logger.Component("receipts")
	cfg, err := LoadConfig()
	if err != nil {
		log.WithError(err).Warn("receipt archive misconfigured, archiving disabled")
		return Noop{}
	}
	if !cfg.Enabled {
		return Noop{}
	}
	a, err := NewS3Archiver(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("receipt archive unavailable, archiving disabled")
		return Noop{}
	}
	return a
}
