package receipts

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/FanPass/internal/pkg/env"
)

// Config holds receipt archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads receipt archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("RECEIPTS_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("RECEIPTS_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("RECEIPTS_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("RECEIPTS_S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("RECEIPTS_S3_ENDPOINT_URL", ""),
		Enabled:         env.GetBool("RECEIPTS_S3_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("RECEIPTS_S3_ACCESS_KEY_ID is required when the receipt archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("RECEIPTS_S3_SECRET_ACCESS_KEY is required when the receipt archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("RECEIPTS_S3_BUCKET_NAME is required when the receipt archive is enabled")
		}
	}

	return config, nil
}

// ObjectKey builds the key of an archived receipt.
func ObjectKey(paymentID string, at time.Time) string {
	// Format: receipts/YYYY/MM/<paymentID>.json
	at = at.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%s.json", at.Year(), int(at.Month()), paymentID)
}
