package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"docgen/config"
	"docgen/models"
)

// S3Service backs the result store with durable artifact storage. The
// in-memory store remains the serving path; S3 copies survive a restart and
// let other systems pick artifacts up directly.
type S3Service struct {
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}
}

// UploadArtifact stores a copy of the artifact under the job's key.
func (s *S3Service) UploadArtifact(ctx context.Context, artifact *models.Artifact) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(artifact.JobID)),
		Body:        bytes.NewReader(artifact.Bytes()),
		ContentType: aws.String(artifact.ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact to S3: %w", err)
	}
	return nil
}

// DeleteArtifact removes the durable copy when the artifact expires.
func (s *S3Service) DeleteArtifact(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact from S3: %w", err)
	}
	return nil
}

func (s *S3Service) key(jobID string) string {
	if s.prefix == "" {
		return "artifacts/" + jobID
	}
	return s.prefix + "/" + jobID
}
