package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/thumb-hub/thumb-hub/internal/version"
)

// S3Options 描述对象存储中的原图位置。Endpoint 非空时使用 path-style 访问，兼容 MinIO 等实现。
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	Timeout  time.Duration
}

// objectAPI 是 s3.Client 的最小子集，测试中可替换为内存实现。
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Store 基于默认凭证链构建 S3 原图来源。
func NewS3Store(ctx context.Context, opts S3Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(newHTTPClient(opts.Timeout)),
		awsconfig.WithAppID(version.UserAgent()),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts.Bucket, opts.Prefix), nil
}

func newS3Store(api objectAPI, bucket, prefix string) *s3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &s3Store{api: api, bucket: bucket, prefix: prefix}
}

type s3Store struct {
	api    objectAPI
	bucket string
	prefix string
}

func (s *s3Store) Names(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, object := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(object.Key), s.prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			names = append(names, baseName(path.Base(key)))
		}
	}
	return sortedNames(names), nil
}

func (s *s3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.objectKey(name)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

func (s *s3Store) objectKey(name string) string {
	return s.prefix + name + Ext
}
