package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/config"
	"github.com/suPer8Hu/genimage/internal/metrics"
)

var errStorageDisabled = errors.New("asset storage is not configured; set S3_* to enable offload")

// Storage uploads generated images to S3-compatible storage.
type Storage struct {
	bucket        string
	endpoint      string
	region        string
	publicBaseURL string
	pathStyle     bool
	client        *s3.Client
	log           zerolog.Logger
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Storage, error) {
	logger := log.With().Str("component", "s3-storage").Logger()
	if !cfg.S3Enabled() {
		logger.Warn().Msg("S3_BUCKET or credentials are not set; generated images are stored inline")
		return nil, errStorageDisabled
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.S3Endpoint), "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &Storage{
		bucket:        cfg.S3Bucket,
		endpoint:      endpoint,
		region:        cfg.S3Region,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.S3PublicBaseURL), "/"),
		pathStyle:     cfg.S3UsePathStyle,
		client:        client,
		log:           logger,
	}, nil
}

// Disabled reports whether err means offload is simply not configured.
func Disabled(err error) bool {
	return errors.Is(err, errStorageDisabled)
}

func (s *Storage) PutAsset(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		metrics.RecordS3Operation("put", "error")
		return "", err
	}
	metrics.RecordS3Operation("put", "success")
	return s.PublicURL(key), nil
}

// PublicURL is where a stored object can be fetched by browsers.
func (s *Storage) PublicURL(key string) string {
	switch {
	case s.publicBaseURL != "":
		return s.publicBaseURL + "/" + key
	case s.endpoint != "" && s.pathStyle:
		return s.endpoint + "/" + s.bucket + "/" + key
	case s.endpoint != "":
		scheme, host, ok := strings.Cut(s.endpoint, "://")
		if !ok {
			return s.endpoint + "/" + s.bucket + "/" + key
		}
		return scheme + "://" + s.bucket + "." + host + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}

// Health performs a HeadBucket request.
func (s *Storage) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

var _ chat.AssetStore = (*Storage)(nil)
