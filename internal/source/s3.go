package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 store.
//
// Credentials resolve in this order: static keys when both are set,
// anonymous access when Anonymous is set (public buckets such as the sample
// song and log data), otherwise the SDK default chain.
type S3Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Anonymous       bool
	// Endpoint overrides the service endpoint, e.g. a MinIO address.
	Endpoint string
}

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store lists and reads objects from S3.
type S3Store struct {
	client s3API
}

// NewS3Store builds an S3 client from opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Region == "" {
		return nil, fmt.Errorf("source: s3 region is required")
	}

	endpoint := func(o *s3.Options) {
		if opts.Endpoint == "" {
			return
		}
		ep := opts.Endpoint
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			ep = "https://" + ep
		}
		o.BaseEndpoint = aws.String(ep)
		o.UsePathStyle = true
	}

	if opts.Anonymous && opts.AccessKeyID == "" {
		client := s3.New(s3.Options{
			Region:      opts.Region,
			Credentials: aws.AnonymousCredentials{},
		}, endpoint)
		return &S3Store{client: client}, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("source: aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(awsCfg, endpoint)}, nil
}

// List pages through every key under loc.Key. Directory markers (keys
// ending in "/") are skipped.
func (s *S3Store) List(ctx context.Context, loc Location) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
	}
	if loc.Key != "" {
		input.Prefix = aws.String(loc.Key)
	}

	var out []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("source: list %s: %w", loc, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, Object{
				Location: Location{Scheme: SchemeS3, Bucket: loc.Bucket, Key: key},
				Size:     aws.ToInt64(obj.Size),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location.Key < out[j].Location.Key })
	return out, nil
}

func (s *S3Store) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("source: get %s: %w", loc, err)
	}
	return res.Body, nil
}
