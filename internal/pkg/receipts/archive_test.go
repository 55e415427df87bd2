package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FanPass/internal/pkg/gateway"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 2, 3, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "receipts/2025/02/PAY1.json", ObjectKey("PAY1", at))
}

func TestS3Archiver_Archive(t *testing.T) {
	logger.Discard()
	fp := &fakePutter{}
	a := &S3Archiver{client: fp, bucket: "receipts-bucket"}

	approved := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	rec := &gateway.PaymentRecord{
		ID:         "PAY1",
		Status:     gateway.StatusApproved,
		PayerEmail: "a@example.com",
		Amount:     decimal.RequireFromString("99"),
		ApprovedAt: &approved,
		Raw:        json.RawMessage(`{"id":1}`),
	}
	require.NoError(t, a.Archive(context.Background(), rec))

	assert.Equal(t, "receipts-bucket", aws.ToString(fp.input.Bucket))
	assert.Equal(t, "receipts/2025/04/PAY1.json", aws.ToString(fp.input.Key))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(fp.body, &doc))
	assert.Equal(t, "99.00", doc["amount"])
	assert.Equal(t, "a@example.com", doc["payerEmail"])
	assert.NotNil(t, doc["gateway"])

	fp.err = errors.New("boom")
	assert.Error(t, a.Archive(context.Background(), rec))
}

func TestLoadConfig_RequiresBucketWhenEnabled(t *testing.T) {
	t.Setenv("RECEIPTS_S3_ENABLED", "true")
	t.Setenv("RECEIPTS_S3_ACCESS_KEY_ID", "key")
	t.Setenv("RECEIPTS_S3_SECRET_ACCESS_KEY", "secret")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("RECEIPTS_S3_BUCKET_NAME", "bucket")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}

func TestNewFromEnv_DisabledIsNoop(t *testing.T) {
	t.Setenv("RECEIPTS_S3_ENABLED", "false")
	_, ok := NewFromEnv(context.Background()).(Noop)
	assert.True(t, ok)
}
