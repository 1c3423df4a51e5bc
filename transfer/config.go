package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/natsclient"
)

// Destinations accepted by transfer_to.
const (
	ToNone        = "none"
	ToLocal       = "local"
	ToS3          = "s3"
	ToCFVolume    = "cf_volume"
	ToObjectStore = "object_store"
)

// S3Config addresses the destination bucket.
type S3Config struct {
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint,omitempty"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	CreateBucket bool   `json:"create_bucket"`
	PathStyle    bool   `json:"path_style"`
	StagingDir   string `json:"staging_dir,omitempty"`
}

// VolumeConfig names the bound volume service.
type VolumeConfig struct {
	ServiceName string `json:"service_name"`
}

// ObjectStoreConfig names the JetStream object store bucket.
type ObjectStoreConfig struct {
	Bucket   string `json:"bucket"`
	Replicas int    `json:"replicas"`
}

// DefaultS3Config returns us-east-1, path style and bucket creation.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1", CreateBucket: true, PathStyle: true}
}

// DefaultVolumeConfig returns the "nfs" service.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{ServiceName: "nfs"}
}

// DefaultObjectStoreConfig returns the "sftp-files" bucket.
func DefaultObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{Bucket: "sftp-files", Replicas: 1}
}

// Options carries what NewPersister needs besides the destination.
type Options struct {
	LocalDir    string
	S3          S3Config
	NFS         VolumeConfig
	ObjectStore ObjectStoreConfig
	Fs          afero.Fs // defaults to the OS filesystem
	NATS        *natsclient.Client
	Logger      *slog.Logger
}

// ValidateDestination checks transfer_to and the settings it needs.
func ValidateDestination(to string, opts Options) error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"transfer", "ValidateDestination", "destination check")
	}
	switch to {
	case "", ToNone:
	case ToLocal:
		if opts.LocalDir == "" {
			return invalid("local_dir is required for transfer_to=%s", to)
		}
	case ToS3:
		if opts.S3.Bucket == "" {
			return invalid("s3.bucket is required for transfer_to=%s", to)
		}
	case ToCFVolume:
		if opts.NFS.ServiceName == "" {
			return invalid("nfs.service_name is required for transfer_to=%s", to)
		}
	case ToObjectStore:
		if opts.ObjectStore.Bucket == "" {
			return invalid("object_store.bucket is required for transfer_to=%s", to)
		}
	default:
		return invalid("unknown transfer_to %q", to)
	}
	return nil
}

// NewPersister builds the persister for destination to. It returns nil for none.
func NewPersister(ctx context.Context, to string, opts Options) (Persister, error) {
	if err := ValidateDestination(to, opts); err != nil {
		return nil, err
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch to {
	case ToLocal:
		return NewFilePersister(fs, opts.LocalDir), nil
	case ToCFVolume:
		return NewVolumePersister(fs, opts.NFS.ServiceName)
	case ToS3:
		return NewS3Persister(ctx, opts.S3, WithS3Logger(logger))
	case ToObjectStore:
		if opts.NATS == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("object store needs a NATS client: %w", errors.ErrNoConnection),
				"transfer", "NewPersister", "client check")
		}
		store, err := opts.NATS.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      opts.ObjectStore.Bucket,
			Description: "sftpstreams transferred files",
			Replicas:    opts.ObjectStore.Replicas,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "transfer", "NewPersister", "create object store")
		}
		return NewObjectStorePersister(store, opts.ObjectStore.Bucket), nil
	default:
		return nil, nil
	}
}
