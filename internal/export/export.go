// Package export writes finished execution transcripts to bucket
// storage, supporting S3, GCS, Azure Blob Storage, and S3-compatible
// stores.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/kode4food/vigil/pkg/api"
)

type (
	// Transcript is the exported record of one watched execution
	Transcript struct {
		ExecutionID api.ExecutionID `json:"execution_id"`
		FlowID      api.FlowID      `json:"flow_id,omitempty"`
		State       *api.WatchState `json:"state"`
		ExportedAt  time.Time       `json:"exported_at"`
	}

	// BlobExporter stores transcripts in a gocloud.dev bucket
	BlobExporter struct {
		bucket *blob.Bucket
		prefix string
	}
)

var ErrTranscriptNotFound = errors.New("transcript not found")

// NewBlobExporter opens the bucket at bucketURL for transcript storage
func NewBlobExporter(
	ctx context.Context, bucketURL, prefix string,
) (*BlobExporter, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobExporter{bucket: bucket, prefix: prefix}, nil
}

// Export writes the transcript of an execution. Re-exporting the same
// execution overwrites the previous transcript
func (e *BlobExporter) Export(
	ctx context.Context, st *api.WatchState,
) error {
	rec := &Transcript{
		ExecutionID: st.ExecutionID,
		FlowID:      st.FlowID,
		State:       st,
		ExportedAt:  time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.bucket.WriteAll(ctx, e.keyFor(st.ExecutionID), data, nil)
}

// Get retrieves a previously exported transcript
func (e *BlobExporter) Get(
	ctx context.Context, id api.ExecutionID,
) (*Transcript, error) {
	data, err := e.bucket.ReadAll(ctx, e.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrTranscriptNotFound
		}
		return nil, err
	}

	var rec Transcript
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes an exported transcript. Deleting a missing transcript
// is not an error
func (e *BlobExporter) Delete(ctx context.Context, id api.ExecutionID) error {
	err := e.bucket.Delete(ctx, e.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (e *BlobExporter) Close() error {
	return e.bucket.Close()
}

func (e *BlobExporter) keyFor(id api.ExecutionID) string {
	return e.prefix + string(id) + ".json"
}
