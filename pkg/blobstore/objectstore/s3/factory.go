package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

const assumeRoleSessionName = "blobstore-s3-session"

// Factory builds S3 stores from the "s3" attributes of a blob store
// configuration.
type Factory struct {
	// LoadOptions are appended after the options derived from the configuration.
	LoadOptions []func(*awsconfig.LoadOptions) error

	// PartSize overrides the multipart upload part size when positive.
	PartSize int64
}

var _ blobstore.ObjectStoreFactory = Factory{}

// Create resolves credentials and region, then returns a Store.
//
// Static credentials are used when both accessKeyId and secretAccessKey are
// set, otherwise the default AWS credential chain applies. When assumeRole
// is set the resulting credentials are used to assume that role through STS.
func (f Factory) Create(ctx context.Context, cfg *blobstore.Configuration) (objectstore.ObjectStore, error) {
	attrs := cfg.Attributes(blobstore.ConfigKey)
	awsCfg, err := f.loadConfig(ctx, attrs)
	if err != nil {
		return nil, err
	}

	endpoint := attrs.GetString(blobstore.EndpointKey)
	pathStyle := attrs.GetBool(blobstore.ForcePathStyleKey)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	opts := []Option{WithRegion(awsCfg.Region)}
	if f.PartSize > 0 {
		opts = append(opts, WithPartSize(f.PartSize))
	}
	return New(client, opts...), nil
}

func (f Factory) loadConfig(ctx context.Context, attrs *blobstore.Attributes) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if region := attrs.GetString(blobstore.RegionKey); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	accessKeyID := attrs.GetString(blobstore.AccessKeyIDKey)
	secretAccessKey := attrs.GetString(blobstore.SecretAccessKeyKey)
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			attrs.GetString(blobstore.SessionTokenKey),
		)))
	}
	opts = append(opts, f.LoadOptions...)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}

	if role := attrs.GetString(blobstore.AssumeRoleKey); role != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), role, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = assumeRoleSessionName
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return awsCfg, nil
}
