package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/sirupsen/logrus"
)

var _ Storage = (*S3Storage)(nil)

type putObjectAPI interface {
	PutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// S3Storage uploads media to an S3-compatible bucket.
type S3Storage struct {
	log     logrus.FieldLogger
	client  putObjectAPI
	bucket  string
	prefix  string
	baseURL string
}

// NewS3Storage creates an S3 backend from the given config.
func NewS3Storage(log logrus.FieldLogger, cfg *config.S3MediaConfig) *S3Storage {
	return &S3Storage{
		log:     log.WithField("component", "s3-media"),
		client:  newS3Client(cfg),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

func newS3Client(cfg *config.S3MediaConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

func (s *S3Storage) key(name string) string {
	if s.prefix == "" {
		return name
	}

	return s.prefix + "/" + name
}

// Put uploads data under the configured prefix and returns its public URL.
func (s *S3Storage) Put(
	ctx context.Context, name, contentType string, data []byte,
) (string, error) {
	if !isAllowedName(name) {
		return "", fmt.Errorf("name %q is not allowed", name)
	}

	key := s.key(name)

	s.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": s.bucket,
	}).Debug("Uploading media")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("PutObject: %w", err)
	}

	return s.baseURL + "/" + key, nil
}
