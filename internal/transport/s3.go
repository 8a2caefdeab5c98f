package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// S3API is the subset of the S3 client used by S3Transport.
type S3API interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Transport stores cloud objects in an S3 bucket or an S3-compatible
// service. Large archives go through the multipart transfer manager.
type S3Transport struct {
	client     S3API
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

var _ saves.Transport = (*S3Transport)(nil)

// NewS3Transport loads AWS configuration from the environment and shared
// profiles, then applies the overrides from cfg.
func NewS3Transport(ctx context.Context, cfg config.CloudConfig) (*S3Transport, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for s3 transport")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.S3Profile))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3TransportWithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3TransportWithClient wraps an existing client.
func NewS3TransportWithClient(client S3API, bucket, prefix string) *S3Transport {
	return &S3Transport{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
	}
}

func (t *S3Transport) Upload(ctx context.Context, localPath, remoteKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(remoteKey)),
		Body:   f,
	})
	if err != nil {
		return t.wrap("upload", remoteKey, err)
	}
	return nil
}

// Download writes into a temp file next to localPath and renames it into
// place once the object is complete.
func (t *S3Transport) Download(ctx context.Context, remoteKey, localPath string) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	_, err = t.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(remoteKey)),
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return t.wrap("download", remoteKey, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Delete is idempotent: S3 reports success for missing keys.
func (t *S3Transport) Delete(ctx context.Context, remoteKey string) error {
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(remoteKey)),
	})
	if err != nil && !isS3NotFound(err) {
		return t.wrap("delete", remoteKey, err)
	}
	return nil
}

func (t *S3Transport) Exists(ctx context.Context, remoteKey string) (saves.Existence, error) {
	_, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(remoteKey)),
	})
	switch {
	case err == nil:
		return saves.ExistenceTrue, nil
	case isS3NotFound(err):
		return saves.ExistenceFalse, nil
	default:
		return saves.ExistenceUnknown, t.wrap("exists", remoteKey, err)
	}
}

func (t *S3Transport) List(ctx context.Context, prefix string) ([]saves.RemoteObject, error) {
	p := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.objectKey(prefix)),
	})

	var out []saves.RemoteObject
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, t.wrap("list", prefix, err)
		}
		for _, obj := range page.Contents {
			key := t.remoteKey(aws.ToString(obj.Key))
			if strings.HasPrefix(path.Base(key), tempPrefix) {
				continue
			}
			out = append(out, saves.RemoteObject{
				Key:     key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

func (t *S3Transport) objectKey(remoteKey string) string {
	if t.prefix == "" {
		return remoteKey
	}
	return t.prefix + "/" + remoteKey
}

func (t *S3Transport) remoteKey(objectKey string) string {
	if t.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, t.prefix+"/")
}

func (t *S3Transport) wrap(op, key string, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, saves.ErrNotFound)
	}
	return fmt.Errorf("s3 %s %s: %w: %w", op, key, saves.ErrTransportFailure, err)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
