package backup

import (
	"context"
	"io"
	"time"

	"github.com/juju/clock"
)

// Config controls periodic database backups.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	// ExportFormat, when set, also writes a visitor export (json, csv or
	// yaml) next to every snapshot.
	ExportFormat string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool

	Clock clock.Clock
}

// Snapshotter is the database snapshot contract used by Manager.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}

// Exporter writes every stored visitor in the named format.
type Exporter interface {
	ExportVisitors(w io.Writer, format string) error
}

// Uploader uploads one backup artifact.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
