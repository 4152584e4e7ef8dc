package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/pkg/config"
)

// S3API is the subset of the S3 client the backend uses
type S3API interface {
	s3.ListObjectsV2APIClient
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage implements Backend on S3 and S3-compatible services. Each site
// gets its own bucket named after its prefix; object keys live under
// <folder>/<prefix>/.
type S3Storage struct {
	client        S3API
	endpoint      string
	region        string
	folder        string
	publicURLBase string
	objectACL     string
	pageSize      int
}

// NewS3Storage creates an S3 backend from static credentials
func NewS3Storage(cfg config.S3Config, pageSize int) (*S3Storage, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3: access and secret keys are required")
	}
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if !IsKnownS3Endpoint(endpoint) && !cfg.UsePathStyle {
		log.Warn().Str("endpoint", endpoint).Msg("s3 endpoint is not a known AWS endpoint and path style is disabled")
	}
	region, err := cfg.ResolveRegion()
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	cfg.Region = region

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if !IsKnownS3Endpoint(endpoint) {
		base := cfg.Endpoint
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		opts.BaseEndpoint = aws.String(base)
	}

	return NewS3StorageWithClient(s3.New(opts), cfg, pageSize), nil
}

// NewS3StorageWithClient creates an S3 backend around an existing client
func NewS3StorageWithClient(client S3API, cfg config.S3Config, pageSize int) *S3Storage {
	endpoint := normalizeEndpoint(cfg.Endpoint)
	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = endpoint
	}
	region, err := cfg.ResolveRegion()
	if err != nil {
		log.Warn().Err(err).Str("region", cfg.Region).Msg("s3 region conflicts with endpoint, keeping configured region")
		region = cfg.Region
	}
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &S3Storage{
		client:        client,
		endpoint:      endpoint,
		region:        region,
		folder:        folder,
		publicURLBase: strings.TrimSuffix(cfg.PublicURLBase, "/"),
		objectACL:     cfg.ObjectACL,
		pageSize:      pageSize,
	}
}

// Kind implements Backend
func (s *S3Storage) Kind() Kind { return KindS3 }

// Layout gives each site a dedicated bucket
func (s *S3Storage) Layout(prefix string) Layout {
	return Layout{Container: prefix, KeyPrefix: s.folder + "/" + prefix, Dedicated: true}
}

// EnsureContainer creates the bucket, treating an already owned bucket as
// success. Public buckets also get Block Public Access lifted, which AWS
// enables on every new bucket and which rejects public-read object ACLs.
func (s *S3Storage) EnsureContainer(ctx context.Context, container string, visibility Visibility) error {
	if err := s.createBucket(ctx, container, visibility); err != nil {
		return err
	}
	if visibility != PublicRead {
		return nil
	}
	return s.allowPublicAccess(ctx, container)
}

func (s *S3Storage) createBucket(ctx context.Context, container string, visibility Visibility) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(container)}
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if visibility == PublicRead {
		// Object ACLs only take effect when ownership is not enforced
		input.ObjectOwnership = types.ObjectOwnershipBucketOwnerPreferred
	}

	_, err := s.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		var taken *types.BucketAlreadyExists
		if errors.As(err, &taken) {
			return fmt.Errorf("s3: bucket %s is owned by another account: %w", container, ErrInvalidKey)
		}
		return mapS3Error("s3: create bucket", err)
	}
	log.Info().Str("bucket", container).Str("region", s.region).Msg("s3 bucket created")
	return nil
}

func (s *S3Storage) allowPublicAccess(ctx context.Context, container string) error {
	_, err := s.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(container),
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(false),
			IgnorePublicAcls:      aws.Bool(false),
			BlockPublicPolicy:     aws.Bool(false),
			RestrictPublicBuckets: aws.Bool(false),
		},
	})
	if err == nil {
		return nil
	}
	// S3-compatible stores without the AWS access-block API have nothing to lift
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotImplemented", "MethodNotAllowed", "XNotImplemented":
			log.Debug().Str("bucket", container).Str("code", apiErr.ErrorCode()).Msg("public access block not supported")
			return nil
		}
	}
	return mapS3Error("s3: put public access block", err)
}

// DeleteContainer removes an empty bucket
func (s *S3Storage) DeleteContainer(ctx context.Context, container string) error {
	_, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(container)})
	if err != nil {
		err = mapS3Error("s3: delete bucket", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	log.Info().Str("bucket", container).Msg("s3 bucket deleted")
	return nil
}

// Put uploads an object with the configured canned ACL
func (s *S3Storage) Put(ctx context.Context, container, key string, content io.Reader, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("s3: key %q: %w", key, err)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String(opts.ContentType),
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}
	if s.objectACL != "" {
		input.ACL = types.ObjectCannedACL(s.objectACL)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return mapS3Error("s3: put object", err)
	}
	return nil
}

// List pages through ListObjectsV2 using its continuation token
func (s *S3Storage) List(ctx context.Context, container, keyPrefix string) Pager {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(container),
		Prefix:  aws.String(keyPrefix),
		MaxKeys: aws.Int32(int32(s.pageSize)),
	})
	return &s3Pager{s: s, container: container, paginator: paginator}
}

type s3Pager struct {
	s         *S3Storage
	container string
	paginator *s3.ListObjectsV2Paginator
}

func (p *s3Pager) More() bool { return p.paginator.HasMorePages() }

func (p *s3Pager) NextPage(ctx context.Context) ([]Object, error) {
	page, err := p.paginator.NextPage(ctx)
	if err != nil {
		return nil, mapS3Error("s3: list objects", err)
	}
	objects := make([]Object, 0, len(page.Contents))
	for _, obj := range page.Contents {
		if obj.Key == nil {
			continue
		}
		objects = append(objects, Object{
			Key:  *obj.Key,
			URL:  p.s.URL(p.container, *obj.Key),
			Size: aws.ToInt64(obj.Size),
		})
	}
	return objects, nil
}

// Get streams an object body
func (s *S3Storage) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("s3: get object", err)
	}
	return output.Body, nil
}

// Delete removes an object; missing keys and buckets are not errors
func (s *S3Storage) Delete(ctx context.Context, container, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		err = mapS3Error("s3: delete object", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// URL returns the public address of an object: virtual-hosted style on AWS,
// or <public base>/<bucket>/<key> for path-style services.
func (s *S3Storage) URL(container, key string) string {
	if s.publicURLBase != "" {
		return s.publicURLBase + "/" + container + "/" + escapePath(key)
	}
	return "https://" + container + "." + s.endpoint + "/" + escapePath(key)
}

// normalizeEndpoint strips scheme and trailing slash: the bare host doubles
// as the default key folder.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint == "" {
		return "s3.amazonaws.com"
	}
	return endpoint
}

func mapS3Error(op string, err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case "BucketNotEmpty":
			return fmt.Errorf("%s: %w: %w", op, ErrNotEmpty, err)
		case "InvalidBucketName", "KeyTooLongError", "InvalidObjectName":
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidKey, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied", "ExpiredToken",
			"SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
			return Unavailable(op, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status == http.StatusNotFound {
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		}
		if isTransientStatus(status) || status == http.StatusForbidden || status == http.StatusUnauthorized {
			return Unavailable(op, err)
		}
	}

	if isNetworkError(err) {
		return Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
