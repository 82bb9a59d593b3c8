// Package publish uploads the standings view for the public viewer.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/standings"
)

// Putter is the part of the S3 client the publisher needs.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client Putter
	bucket string
	key    string
	log    *zap.Logger
}

func New(client Putter, bucket, key string, log *zap.Logger) *S3 {
	if key == "" {
		key = "standings.json"
	}
	return &S3{client: client, bucket: bucket, key: key, log: log.Named("publish")}
}

// NewFromEnv builds an S3 client from the default AWS credential chain.
func NewFromEnv(ctx context.Context, region, bucket, key string, log *zap.Logger) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return New(client, bucket, key, log), nil
}

func (p *S3) Publish(ctx context.Context, v standings.View) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(p.key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		CacheControl:  aws.String("no-cache"),
	})
	if err != nil {
		return fmt.Errorf("upload standings to s3://%s/%s: %w", p.bucket, p.key, err)
	}
	p.log.Debug("standings published", zap.String("bucket", p.bucket), zap.String("key", p.key), zap.Int("bytes", len(body)))
	return nil
}
