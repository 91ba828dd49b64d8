package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"listmailer/internal/config"
)

// S3Options configures the S3 client. Empty keys use the default AWS
// credential chain.
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UsePathStyle bool
}

// S3OptionsFromEnv reads LISTMAILER_S3_REGION, LISTMAILER_S3_ENDPOINT,
// LISTMAILER_S3_ACCESS_KEY, LISTMAILER_S3_SECRET_KEY and
// LISTMAILER_S3_PATH_STYLE.
func S3OptionsFromEnv() S3Options {
	return S3Options{
		Region:       os.Getenv("LISTMAILER_S3_REGION"),
		Endpoint:     os.Getenv("LISTMAILER_S3_ENDPOINT"),
		AccessKey:    os.Getenv("LISTMAILER_S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("LISTMAILER_S3_SECRET_KEY"),
		UsePathStyle: config.Bool("LISTMAILER_S3_PATH_STYLE", false),
	}
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer uploads rendered messages as objects under a key prefix.
type S3Writer struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Writer returns a writer for target, an s3://bucket/prefix URL.
func NewS3Writer(ctx context.Context, target string, opts S3Options) (*S3Writer, error) {
	bucket, prefix, err := ParseS3URL(target)
	if err != nil {
		return nil, err
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	} else if opts.Endpoint != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion("us-east-1"))
	}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &S3Writer{client: client, bucket: bucket, prefix: prefix}, nil
}

// ParseS3URL splits s3://bucket/prefix into its bucket and key prefix.
func ParseS3URL(target string) (string, string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: expected s3://bucket/prefix, got %q", ErrStorageConfig, target)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// Write uploads body as prefix/name and returns its s3:// location.
func (w *S3Writer) Write(ctx context.Context, name string, body []byte) (string, error) {
	safe, err := sanitizeComponent(name)
	if err != nil {
		return "", err
	}
	key := path.Join(w.prefix, safe)
	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return "s3://" + w.bucket + "/" + key, nil
}
