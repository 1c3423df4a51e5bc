package transfer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/retry"
)

// S3ClientAPI is the part of the S3 client the persister uses.
type S3ClientAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Persister uploads transfers to a bucket. Content is staged to a local
// file first so the upload has a known length and can be retried.
type S3Persister struct {
	client     S3ClientAPI
	bucket     string
	staging    afero.Fs
	stagingDir string
	retry      retry.Config
	logger     *slog.Logger
}

// S3Option configures an S3Persister.
type S3Option func(*S3Persister)

// WithS3Client replaces the SDK client.
func WithS3Client(client S3ClientAPI) S3Option {
	return func(p *S3Persister) { p.client = client }
}

// WithStaging replaces the staging filesystem and directory.
func WithStaging(fs afero.Fs, dir string) S3Option {
	return func(p *S3Persister) {
		p.staging = fs
		p.stagingDir = dir
	}
}

// WithS3Logger sets the logger.
func WithS3Logger(l *slog.Logger) S3Option {
	return func(p *S3Persister) { p.logger = l }
}

// NewS3Persister verifies the bucket exists, creating it when the config
// allows.
func NewS3Persister(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Persister, error) {
	p := &S3Persister{
		bucket:     cfg.Bucket,
		staging:    afero.NewOsFs(),
		stagingDir: cfg.StagingDir,
		retry:      retry.Quick(),
		logger:     slog.Default(),
	}
	if p.stagingDir == "" {
		p.stagingDir = os.TempDir()
	}
	for _, opt := range opts {
		opt(p)
	}
	p.retry.RetryIf = errors.IsTransient

	if p.client == nil {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.client = client
	}
	if err := p.ensureBucket(ctx, cfg.CreateBucket); err != nil {
		return nil, err
	}
	return p, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "S3Persister", "New", "load AWS config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func (p *S3Persister) ensureBucket(ctx context.Context, create bool) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return errors.WrapTransient(err, "S3Persister", "ensureBucket", "head bucket "+p.bucket)
	}
	if !create {
		return errors.WrapInvalid(fmt.Errorf("bucket %s does not exist: %w", p.bucket, errors.ErrBucketNotFound),
			"S3Persister", "ensureBucket", "bucket check")
	}
	if _, err := p.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(p.bucket)}); err != nil {
		return errors.WrapTransient(err, "S3Persister", "ensureBucket", "create bucket "+p.bucket)
	}
	p.logger.Info("Created S3 bucket", "bucket", p.bucket)
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if stderrors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if stderrors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	return stderrors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket")
}

func (p *S3Persister) Destination() string { return "s3" }

func (p *S3Persister) Save(ctx context.Context, t Transfer) error {
	p.logger.Info("Saving source contents to bucket", "bucket", p.bucket, "key", t.Target)

	staged := filepath.Join(p.stagingDir, uuid.NewString())
	size, err := p.stage(staged, t.Source)
	if err != nil {
		return err
	}
	defer func() { _ = p.staging.Remove(staged) }()

	return retry.Do(ctx, p.retry, func() error {
		f, err := p.staging.Open(staged)
		if err != nil {
			return retry.NonRetryable(errors.WrapFatal(err, "S3Persister", "Save", "reopen staged file"))
		}
		defer f.Close()
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(t.Target),
			Body:          f,
			ContentLength: aws.Int64(size),
			Metadata:      t.Metadata,
		})
		if err != nil {
			return errors.WrapTransient(err, "S3Persister", "Save", "put object "+t.Target)
		}
		return nil
	})
}

func (p *S3Persister) stage(path string, src io.Reader) (int64, error) {
	if err := p.staging.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.WrapTransient(err, "S3Persister", "stage", "create staging dir")
	}
	f, err := p.staging.Create(path)
	if err != nil {
		return 0, errors.WrapTransient(err, "S3Persister", "stage", "create staging file")
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = p.staging.Remove(path)
		return 0, errors.WrapTransient(err, "S3Persister", "stage", "copy to staging file")
	}
	return n, nil
}
