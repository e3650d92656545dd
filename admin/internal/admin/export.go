package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// ObjectPutter is the subset of *s3.Client used by the exporter.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type ExportConfig struct {
	Logger *slog.Logger
	Client ObjectPutter
	Bucket string
	Prefix string
	Clock  clockwork.Clock
}

func (cfg *ExportConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Snapshot is the exported document.
type Snapshot struct {
	ExportedAt time.Time `json:"exported_at"`
	VaultReport
}

// ExportS3 writes a snapshot of the vault to
// <prefix>/<vault-id>/<timestamp>.json and returns the object key.
func ExportS3(ctx context.Context, cfg ExportConfig, engine *vault.Engine, id uuid.UUID) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	report, err := loadReport(ctx, engine, id)
	if err != nil {
		return "", err
	}
	now := cfg.Clock.Now().UTC()
	body, err := json.MarshalIndent(Snapshot{ExportedAt: now, VaultReport: *report}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := SnapshotKey(cfg.Prefix, id, now)
	_, err = cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	cfg.Logger.Info("admin: snapshot exported", "bucket", cfg.Bucket, "key", key, "whitelist", len(report.Whitelist))
	return key, nil
}

func SnapshotKey(prefix string, id uuid.UUID, at time.Time) string {
	return path.Join(prefix, id.String(), at.UTC().Format("20060102T150405Z")+".json")
}
