package s3store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/chirino/daily-log/internal/config"
	registryattach "github.com/chirino/daily-log/internal/registry/attach"
	"github.com/google/uuid"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registryattach.ImageStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: DAILYLOG_IMAGES_S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	return New(client, Options{
		Bucket:           cfg.S3Bucket,
		Prefix:           cfg.S3Prefix,
		ExternalEndpoint: cfg.S3ExternalEndpoint,
		UploadExpiry:     cfg.ImageUploadURLExpiresIn,
	}), nil
}

// Options configures an S3 image store.
type Options struct {
	Bucket           string
	Prefix           string
	ExternalEndpoint string
	UploadExpiry     time.Duration
}

// New creates an image store over an S3 client.
func New(client *s3.Client, opts Options) *S3ImageStore {
	uploadExpiry := opts.UploadExpiry
	if uploadExpiry <= 0 {
		uploadExpiry = 15 * time.Minute
	}
	return &S3ImageStore{
		client:           client,
		presigner:        s3.NewPresignClient(client),
		bucket:           opts.Bucket,
		prefix:           strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		externalEndpoint: strings.TrimSpace(opts.ExternalEndpoint),
		uploadExpiry:     uploadExpiry,
	}
}

// S3ImageStore hands out presigned PUT and GET URLs; image bytes never pass
// through the service.
type S3ImageStore struct {
	client           *s3.Client
	presigner        *s3.PresignClient
	bucket           string
	prefix           string
	externalEndpoint string
	uploadExpiry     time.Duration
}

// s3Key applies the configured prefix. Storage ids are persisted without it.
func (s *S3ImageStore) s3Key(storageID string) string {
	if s.prefix != "" {
		return s.prefix + "/" + storageID
	}
	return storageID
}

func (s *S3ImageStore) NewUpload(ctx context.Context) (*registryattach.Upload, error) {
	storageID := uuid.NewString()
	key := s.s3Key(storageID)
	resp, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.uploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("s3store: presign put: %w", err)
	}
	uploadURL, err := s.externalize(resp.URL)
	if err != nil {
		return nil, err
	}
	return &registryattach.Upload{
		UploadURL: uploadURL,
		StorageID: storageID,
		ExpiresAt: time.Now().Add(s.uploadExpiry),
	}, nil
}

func (s *S3ImageStore) URL(ctx context.Context, storageID string, expiry time.Duration) (string, error) {
	key := s.s3Key(storageID)
	resp, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3store: presign get: %w", err)
	}
	return s.externalize(resp.URL)
}

func (s *S3ImageStore) Delete(ctx context.Context, storageID string) error {
	key := s.s3Key(storageID)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err
}

// externalize rewrites a presigned URL onto the externally reachable endpoint.
func (s *S3ImageStore) externalize(raw string) (string, error) {
	if s.externalEndpoint == "" {
		return raw, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	external, err := url.Parse(s.externalEndpoint)
	if err != nil {
		return "", fmt.Errorf("s3store: parse external endpoint: %w", err)
	}
	parsed.Scheme = external.Scheme
	parsed.Host = external.Host
	if strings.TrimSpace(external.Path) != "" && external.Path != "/" {
		parsed.Path = strings.TrimRight(external.Path, "/") + parsed.Path
	}
	return parsed.String(), nil
}
