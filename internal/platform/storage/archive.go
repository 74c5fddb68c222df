// Package storage archives generated reports to Cloud Storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// PutFunc writes one object. The GCS-backed implementation is returned by gcsPut.
type PutFunc func(ctx context.Context, bucket, object, contentType string, data []byte) error

// ReportArchive stores JSON reports under <prefix>/yyyy/mm/dd/<id>.json.
type ReportArchive struct {
	bucket string
	put    PutFunc
	now    func() time.Time
}

// ArchiveOption customises a ReportArchive.
type ArchiveOption func(*ReportArchive)

// WithPutFunc replaces the object writer, mainly for tests.
func WithPutFunc(put PutFunc) ArchiveOption {
	return func(a *ReportArchive) {
		if put != nil {
			a.put = put
		}
	}
}

func WithClock(now func() time.Time) ArchiveOption {
	return func(a *ReportArchive) {
		if now != nil {
			a.now = now
		}
	}
}

// NewReportArchive writes to bucket through client. client may be nil when
// WithPutFunc supplies the writer.
func NewReportArchive(client *gcs.Client, bucket string, opts ...ArchiveOption) (*ReportArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	a := &ReportArchive{bucket: bucket, now: time.Now}
	if client != nil {
		a.put = gcsPut(client)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.put == nil {
		return nil, errors.New("storage: client or put func is required")
	}
	return a, nil
}

// ObjectName returns the archive path for a report generated at t.
func ObjectName(prefix, id string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, t.Format("2006"), t.Format("01"), t.Format("02"), id+".json")
}

// Archive marshals report and stores it, returning the gs:// URI.
func (a *ReportArchive) Archive(ctx context.Context, prefix, id string, generatedAt time.Time, report any) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("storage: report id is required")
	}
	if generatedAt.IsZero() {
		generatedAt = a.now()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: encode report %s: %w", id, err)
	}
	object := ObjectName(prefix, id, generatedAt)
	if err := a.put(ctx, a.bucket, object, "application/json", data); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

func gcsPut(client *gcs.Client) PutFunc {
	return func(ctx context.Context, bucket, object, contentType string, data []byte) error {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = "no-store"
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}
}
