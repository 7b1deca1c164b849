package artifact

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
)

// S3StoreConfig holds configuration for S3 artifact storage
type S3StoreConfig struct {
	Region          string        `json:"region" yaml:"region"`
	Bucket          string        `json:"bucket" yaml:"bucket"`
	AccessKeyID     string        `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style" yaml:"force_path_style"`
	Prefix          string        `json:"prefix" yaml:"prefix"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
}

// S3Store implements Store on AWS S3. Resolve is a HeadObject existence
// check; contents stay opaque to the control plane.
type S3Store struct {
	config     *S3StoreConfig
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
}

// NewS3Store creates a new S3 artifact store
func NewS3Store(config *S3StoreConfig, logger *logrus.Logger) (*S3Store, error) {
	if config == nil {
		return nil, errors.NewStorageError("INVALID_CONFIG", "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		MaxRetries:       aws.Int(config.MaxRetries),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKeyID, config.SecretAccessKey, config.SessionToken)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SESSION_FAILED",
			"failed to create AWS session")
	}

	store := &S3Store{
		config:     config,
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		logger:     logger,
	}

	logger.WithFields(logrus.Fields{
		"bucket": config.Bucket,
		"region": config.Region,
	}).Info("S3 artifact store initialized")

	return store, nil
}

// Resolve reports whether the artifact reference exists
func (s *S3Store) Resolve(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, errors.NewValidationError("INVALID_REF", "artifact reference cannot be empty")
	}

	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(ref)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case "NotFound", s3.ErrCodeNoSuchKey:
				return false, nil
			}
		}
		return false, errors.WrapError(err, errors.ErrorTypeStorage, "HEAD_FAILED",
			"failed to check artifact "+ref)
	}
	return true, nil
}

// Put stores an opaque blob under the given reference
func (s *S3Store) Put(ctx context.Context, ref string, body io.Reader) error {
	if ref == "" {
		return errors.NewValidationError("INVALID_REF", "artifact reference cannot be empty")
	}

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(ref)),
		Body:   body,
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "UPLOAD_FAILED",
			"failed to upload artifact "+ref)
	}
	return nil
}

// Fetch returns the blob for a reference
func (s *S3Store) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(ref)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.NewNotFoundError("ARTIFACT_NOT_FOUND", "artifact "+ref+" not found")
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DOWNLOAD_FAILED",
			"failed to fetch artifact "+ref)
	}
	return out.Body, nil
}

// Delete removes the blob for a reference
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(ref)),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
			"failed to delete artifact "+ref)
	}
	return nil
}

func (s *S3Store) objectKey(ref string) string {
	if s.config.Prefix == "" {
		return ref
	}
	return path.Join(s.config.Prefix, ref)
}

var _ Store = (*S3Store)(nil)
