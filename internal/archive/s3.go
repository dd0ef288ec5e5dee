// Package archive stores raw webhook payloads in S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/config"
)

// Archiver keeps a copy of a raw webhook body.
type Archiver interface {
	Archive(ctx context.Context, channel string, body []byte) (string, error)
}

// Noop archives nothing; used when S3 is not configured.
type Noop struct{}

func (Noop) Archive(context.Context, string, []byte) (string, error) { return "", nil }

// S3Archive writes payloads under webhooks/<channel>/<yyyy>/<mm>/<dd>/<uuid>.json.
type S3Archive struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewS3Archive builds a client from static credentials. A custom endpoint is
// used for MinIO and other S3-compatible stores.
func NewS3Archive(cfg config.S3Config) (*S3Archive, error) {
	if !cfg.Enabled() {
		return nil, errors.New("s3 archive requires bucket, access key and secret key")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && strings.Contains(endpoint, "//"+cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().Str("bucket", cfg.Bucket).Str("endpoint", endpoint).Msg("Removed bucket name from S3 endpoint")
	}

	// Dotted bucket names break virtual-host TLS certificates.
	pathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	log.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Str("endpoint", endpoint).Bool("pathStyle", pathStyle).Msg("S3 archive initialized")
	return &S3Archive{client: client, bucket: cfg.Bucket, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Key builds the object key for a payload received at t.
func Key(channel string, t time.Time, id string) string {
	t = t.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", channel, t.Year(), int(t.Month()), t.Day(), id)
}

// Archive uploads body and returns its key.
func (a *S3Archive) Archive(ctx context.Context, channel string, body []byte) (string, error) {
	key := Key(channel, a.now(), uuid.NewString())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("upload webhook payload to s3: %w", err)
	}
	log.Debug().Str("bucket", a.bucket).Str("key", key).Int("size", len(body)).Msg("Webhook payload archived")
	return key, nil
}
