package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// TypeS3Backup dumps the panel database with pg_dump and uploads the archive
// to an S3-compatible endpoint (MinIO on the NAS, or real S3).
const TypeS3Backup = "s3_backup"

type s3BackupConfig struct {
	// DatabaseURL overrides the panel database as the dump source.
	DatabaseURL    string `json:"database_url"`
	KeyPrefix      string `json:"key_prefix"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// S3Uploader is the slice of the S3 client the job needs.
type S3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Backup struct {
	DatabaseURL string
	Bucket      string
	Client      S3Uploader
}

// NewS3Backup builds the job with a real S3 client against the configured
// endpoint. Path-style addressing is used so MinIO works out of the box.
func NewS3Backup(databaseURL, endpoint, accessKey, secretKey, bucket string) *S3Backup {
	j := &S3Backup{DatabaseURL: databaseURL, Bucket: bucket}
	if endpoint != "" && accessKey != "" {
		j.Client = s3.New(s3.Options{
			BaseEndpoint: aws.String(endpoint),
			Region:       "us-east-1",
			Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
			UsePathStyle: true,
		})
	}
	return j
}

func (j *S3Backup) Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error) {
	var c s3BackupConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return Result{ExitCode: 1}, err
	}
	if j.Client == nil || j.Bucket == "" {
		return Result{ExitCode: 1}, fmt.Errorf("s3_backup: S3 is not configured")
	}
	source := c.DatabaseURL
	if source == "" {
		source = j.DatabaseURL
	}
	if source == "" {
		return Result{ExitCode: 1}, fmt.Errorf("s3_backup: no database to dump")
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 600
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pg_dump", "--format=custom", "--dbname="+source)
	var dump, stderr bytes.Buffer
	cmd.Stdout = &dump
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{ExitCode: 1, Output: stderr.String()},
			fmt.Errorf("s3_backup: pg_dump: %w", err)
	}

	key := fmt.Sprintf("%shomelab-%s.dump", c.KeyPrefix, time.Now().UTC().Format("20060102-150405"))
	_, err := j.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(j.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(dump.Bytes()),
	})
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("s3_backup: upload %s: %w", key, err)
	}

	logger.Info().Str("bucket", j.Bucket).Str("key", key).Int("bytes", dump.Len()).Msg("backup uploaded")
	return Result{Output: fmt.Sprintf("uploaded s3://%s/%s (%d bytes)", j.Bucket, key, dump.Len())}, nil
}
