package video

import (
	"time"

	"vidstore/internal/metrics"
	"vidstore/internal/status"
	"vidstore/internal/transcode"

	"github.com/google/uuid"
)

// FileInfo is a point-in-time view of a stored file.
type FileInfo struct {
	ID       uuid.UUID
	Filename string
	// LastSuccess is nil while an operation runs or before the first one
	// finishes.
	LastSuccess *bool
	Processing  bool
}

type Options struct {
	DataDir           string
	AllowedExtensions []string
	Store             status.Store
	Transcoder        transcode.Transcoder
	TranscodeTimeout  time.Duration
	Metrics           *metrics.Metrics

	// MaxConcurrentTranscodes caps resizes running at once across all files.
	// Resizes over the cap stay busy and wait for a slot.
	MaxConcurrentTranscodes int
}

const (
	// minDimension is exclusive; the encoder also needs even sizes.
	minDimension = 20

	defaultTranscodeTimeout        = 30 * time.Minute
	defaultMaxConcurrentTranscodes = 2
	storedExtension                = ".mp4"

	opIngest    = "ingest"
	opTransform = "transform"
	opPurge     = "purge"
)
