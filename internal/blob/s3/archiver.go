package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// Archiver implements domain.OpportunityArchiver: each pruned batch is
// written as one JSONL object under a date-partitioned key, so downstream
// analytics can read whole days with a prefix listing.
//
// Key schema:
//
//	opportunities/{YYYY}/{MM}/{DD}/{unix-nanos}.jsonl
type Archiver struct {
	client *Client
}

var _ domain.OpportunityArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver backed by the given client.
func NewArchiver(client *Client) *Archiver {
	return &Archiver{client: client}
}

// Archive writes the batch as newline-delimited JSON. Empty batches are a
// no-op.
func (a *Archiver) Archive(ctx context.Context, opps []domain.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, opp := range opps {
		if err := enc.Encode(opp); err != nil {
			return fmt.Errorf("s3blob: encode opportunity %s: %w", opp.ID, err)
		}
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("opportunities/%04d/%02d/%02d/%d.jsonl",
		now.Year(), now.Month(), now.Day(), now.UnixNano())

	_, err := a.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}
