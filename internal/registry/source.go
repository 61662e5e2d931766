package registry

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source produces the raw registry document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, Format, error)
	String() string
}

// EmbeddedSource serves the catalog compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Fetch(context.Context) ([]byte, Format, error) {
	return DefaultDocument(), FormatYAML, nil
}

func (EmbeddedSource) String() string { return "embedded" }

// FileSource reads the document from a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context) ([]byte, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, "", fmt.Errorf("reading registry file: %w", err)
	}
	return data, FormatFromPath(s.Path), nil
}

func (s FileSource) String() string { return "file:" + s.Path }

// ObjectGetter is the part of the S3 client S3Source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates a registry object in S3 or an S3-compatible store such as
// Cloudflare R2.
type S3Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string // custom endpoint; empty for AWS
	AccessKeyID     string // static credentials; empty for the default chain
	SecretAccessKey string
}

// S3Source reads the document from an object store.
type S3Source struct {
	Client ObjectGetter
	Bucket string
	Key    string
}

// NewS3Source builds an S3 client from cfg.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3 registry source needs bucket and key")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Source{Client: client, Bucket: cfg.Bucket, Key: cfg.Key}, nil
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, Format, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("getting s3 object %s/%s: %w", s.Bucket, s.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading s3 object: %w", err)
	}
	return data, FormatFromPath(s.Key), nil
}

func (s *S3Source) String() string { return "s3://" + s.Bucket + "/" + s.Key }
