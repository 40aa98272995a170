package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3BackupNotConfigured(t *testing.T) {
	job := NewS3Backup("postgres://localhost/panel", "", "", "", "")

	res, err := job.Run(context.Background(), json.RawMessage(`{}`), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 is not configured")
	assert.Equal(t, 1, res.ExitCode)
}

func TestS3BackupConfiguredClient(t *testing.T) {
	job := NewS3Backup("postgres://localhost/panel", "http://minio.lan:9000", "minioadmin", "minioadmin", "backups")
	assert.NotNil(t, job.Client)
	assert.Equal(t, "backups", job.Bucket)
}

func TestS3BackupBadConfig(t *testing.T) {
	job := NewS3Backup("postgres://localhost/panel", "http://minio.lan:9000", "minioadmin", "minioadmin", "backups")

	res, err := job.Run(context.Background(), json.RawMessage(`{bad`), zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
}
