package store

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

// sortKeyLayout is fixed width so lexical order is chronological.
const sortKeyLayout = "20060102T150405.000000000Z"

var recordTables = map[model.PipelineKind]string{
	model.KindSEC:          "sec_records",
	model.KindExecutives:   "executive_records",
	model.KindAdverseMedia: "adverse_media_records",
	model.KindSanctions:    "sanctions_records",
}

// RecordTable returns the table holding records of kind.
func RecordTable(kind model.PipelineKind) string {
	return recordTables[kind]
}

// SortKey is the sort key of a record written at t by run runID.
func SortKey(t time.Time, runID string) string {
	return t.UTC().Format(sortKeyLayout) + "_" + runID
}

// PutRecord stores rec under its entity and returns its sort key.
func PutRecord(ctx context.Context, s Store, rec model.PipelineRecord) (string, error) {
	table := RecordTable(rec.Kind)
	if table == "" {
		return "", eris.Errorf("store: unknown pipeline kind %q", rec.Kind)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal record")
	}
	key := SortKey(rec.RecordedAt, rec.RunID)
	if err := s.Put(ctx, table, Item{PartitionKey: rec.EntityID, SortKey: key, Data: data}); err != nil {
		return "", err
	}
	return key, nil
}

// StoredRecord is a decoded record with its sort key.
type StoredRecord struct {
	SortKey string
	Record  model.PipelineRecord
}

// Records returns every record of kind for the entity, oldest first.
func Records(ctx context.Context, s Store, kind model.PipelineKind, entityID string) ([]StoredRecord, error) {
	table := RecordTable(kind)
	if table == "" {
		return nil, eris.Errorf("store: unknown pipeline kind %q", kind)
	}
	items, err := s.Query(ctx, table, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]StoredRecord, 0, len(items))
	for _, it := range items {
		var rec model.PipelineRecord
		if err := json.Unmarshal(it.Data, &rec); err != nil {
			return nil, eris.Wrapf(err, "store: decode %s record %s", kind, it.SortKey)
		}
		out = append(out, StoredRecord{SortKey: it.SortKey, Record: rec})
	}
	return out, nil
}

// LatestRecord returns the newest record of kind for the entity whose
// status is not Failed, or ErrNotFound.
func LatestRecord(ctx context.Context, s Store, kind model.PipelineKind, entityID string) (*StoredRecord, error) {
	recs, err := Records(ctx, s, kind, entityID)
	if err != nil {
		return nil, err
	}
	for _, r := range slices.Backward(recs) {
		if r.Record.Status != model.RecordFailed {
			return &r, nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "no usable %s record for %s", kind, entityID)
}
