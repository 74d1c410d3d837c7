package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// BucketFailure names one bucket operation that failed during cleanup.
type BucketFailure struct {
	Bucket string
	Op     string
	Error  string
}

// StorageCleaner removes a deleted tenant's object storage buckets. Buckets
// are matched by name: <prefix><schema> with underscores mapped to hyphens
// (S3 bucket names cannot contain underscores), plus any "-"-suffixed
// variants the tenant created under that name.
type StorageCleaner struct {
	client *s3.Client
	prefix string
}

// NewStorageCleaner builds an S3 client for the configured endpoint.
// Path-style addressing is used so MinIO-compatible endpoints work.
func NewStorageCleaner(ctx context.Context, endpoint, region, accessKey, secretKey, bucketPrefix string) (*StorageCleaner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &StorageCleaner{client: client, prefix: bucketPrefix}, nil
}

// TenantBucketName returns the base bucket name for a tenant schema.
func (s *StorageCleaner) TenantBucketName(tenantSchema string) string {
	return s.prefix + strings.ReplaceAll(tenantSchema, "_", "-")
}

// PurgeTenant empties and deletes every bucket belonging to the tenant,
// returning one failure per bucket operation that did not succeed. A bucket
// that no longer exists is not a failure.
func (s *StorageCleaner) PurgeTenant(ctx context.Context, tenantSchema string) []BucketFailure {
	base := s.TenantBucketName(tenantSchema)

	buckets, err := s.tenantBuckets(ctx, base)
	if err != nil {
		return []BucketFailure{{Bucket: base, Op: "list-buckets", Error: err.Error()}}
	}

	var failures []BucketFailure
	for _, bucket := range buckets {
		if err := s.purgeBucket(ctx, bucket); err != nil {
			failures = append(failures, BucketFailure{Bucket: bucket, Op: "purge", Error: err.Error()})
			continue
		}
		if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
			failures = append(failures, BucketFailure{Bucket: bucket, Op: "delete-bucket", Error: err.Error()})
		}
	}
	return failures
}

// tenantBuckets lists the buckets owned by the tenant: the base name itself
// and anything under "<base>-".
func (s *StorageCleaner) tenantBuckets(ctx context.Context, base string) ([]string, error) {
	out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("ListBuckets: %w", err)
	}

	var buckets []string
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		if name == base || strings.HasPrefix(name, base+"-") {
			buckets = append(buckets, name)
		}
	}
	return buckets, nil
}

// purgeBucket deletes all objects in a bucket in batches of up to 1000.
func (s *StorageCleaner) purgeBucket(ctx context.Context, bucket string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("ListObjectsV2: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("DeleteObjects: %w", err)
		}
	}
	return nil
}
