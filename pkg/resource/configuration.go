package resource

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cloud_aws "github.com/buildbarn/bb-smb/pkg/cloud/aws"
	"github.com/buildbarn/bb-smb/pkg/cloud/gcp"
	"github.com/buildbarn/bb-smb/pkg/util"

	"gocloud.dev/blob"
	// Providers that may be referenced through Configuration.URL.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCSConfiguration selects a Google Cloud Storage bucket.
type GCSConfiguration struct {
	Bucket        string                          `json:"bucket"`
	ClientOptions *gcp.ClientOptionsConfiguration `json:"clientOptions,omitempty"`
}

// S3Configuration selects an Amazon S3 bucket, or a bucket of a
// storage system that provides an S3 compatible API.
type S3Configuration struct {
	Bucket       string                          `json:"bucket"`
	AWSSession   *cloud_aws.SessionConfiguration `json:"awsSession,omitempty"`
	Endpoint     string                          `json:"endpoint,omitempty"`
	UsePathStyle bool                            `json:"usePathStyle,omitempty"`
}

// Configuration of a Store. Exactly one of the backends needs to be
// set.
type Configuration struct {
	// URL of a Go Cloud Development Kit bucket, such as
	// "file:///var/smb" or "mem://".
	URL string            `json:"url,omitempty"`
	GCS *GCSConfiguration `json:"gcs,omitempty"`
	S3  *S3Configuration  `json:"s3,omitempty"`

	// If set, Prometheus metrics are reported with this name.
	MetricsName string `json:"metricsName,omitempty"`
}

// NewStoreFromConfiguration creates a Store based on parameters
// provided in a configuration file.
func NewStoreFromConfiguration(ctx context.Context, configuration *Configuration) (Store, error) {
	if configuration == nil {
		return nil, status.Error(codes.InvalidArgument, "Store configuration not specified")
	}

	backends := 0
	var store Store
	if configuration.URL != "" {
		backends++
		bucket, err := blob.OpenBucket(ctx, configuration.URL)
		if err != nil {
			return nil, util.StatusWrapfWithCode(err, codes.InvalidArgument, "Failed to open bucket %#v", configuration.URL)
		}
		store = NewBlobStore(bucket)
	}
	if gcsConfiguration := configuration.GCS; gcsConfiguration != nil {
		backends++
		client, err := storage.NewClient(ctx, gcp.NewClientOptionsFromConfiguration(gcsConfiguration.ClientOptions)...)
		if err != nil {
			return nil, util.StatusWrap(err, "Failed to create Google Cloud Storage client")
		}
		store = NewGCSStore(gcp.NewWrappedStorageClient(client).Bucket(gcsConfiguration.Bucket))
	}
	if s3Configuration := configuration.S3; s3Configuration != nil {
		backends++
		cfg, err := cloud_aws.NewConfigFromConfiguration(ctx, s3Configuration.AWSSession)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s3Configuration.Endpoint != "" {
				o.BaseEndpoint = aws.String(s3Configuration.Endpoint)
			}
			o.UsePathStyle = s3Configuration.UsePathStyle
		})
		store = NewS3Store(client, s3Configuration.Bucket)
	}
	if backends != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "Store configuration must specify exactly one backend, while %d were specified", backends)
	}

	if configuration.MetricsName != "" {
		store = NewMetricsStore(store, configuration.MetricsName)
	}
	return store, nil
}
