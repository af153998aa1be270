// Package merge combines the latest usable record of every pipeline into one
// unified record per entity and writes it to the blob store.
package merge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/blob"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/store"
)

// ErrNoRecords is returned when no pipeline has a usable record for the
// entity.
var ErrNoRecords = eris.New("merge: no usable pipeline records")

const (
	dataPrefix  = "company_data/"
	stampLayout = "20060102T150405.000000000Z"
)

// Merger builds unified records.
type Merger struct {
	store store.Store
	blobs blob.Store
	now   func() time.Time
}

// New creates a Merger. A nil now uses time.Now.
func New(s store.Store, b blob.Store, now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{store: s, blobs: b, now: now}
}

// SnapshotPath is the blob path of the snapshot data written at t. The
// content digest keeps two merges stamped with the same instant apart.
func SnapshotPath(entityID string, t time.Time, data []byte) string {
	sum := sha256.Sum256(data)
	return dataPrefix + entityID + "_" + t.UTC().Format(stampLayout) + "_" + hex.EncodeToString(sum[:4]) + ".json"
}

// LatestPath is the blob path always holding the newest snapshot.
func LatestPath(entityID string) string {
	return dataPrefix + entityID + "_latest.json"
}

// Merge builds the unified record of entityID, writes a timestamped snapshot
// and the latest pointer, and returns the record with the snapshot location.
func (m *Merger) Merge(ctx context.Context, entityID string) (*model.UnifiedRecord, string, error) {
	log := zap.L().With(zap.String("entity_id", entityID))

	latest := make(map[model.PipelineKind]*store.StoredRecord, len(model.PipelineKinds))
	for _, kind := range model.PipelineKinds {
		rec, err := store.LatestRecord(ctx, m.store, kind, entityID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", eris.Wrapf(err, "merge: read %s records", kind)
		}
		latest[kind] = rec
	}
	if len(latest) == 0 {
		return nil, "", eris.Wrapf(ErrNoRecords, "entity %s", entityID)
	}

	unified := Build(entityID, latest)
	data, err := Encode(unified)
	if err != nil {
		return nil, "", err
	}

	loc, err := m.blobs.Put(ctx, SnapshotPath(entityID, m.now(), data), data)
	if err != nil {
		return nil, "", eris.Wrap(err, "merge: write snapshot")
	}
	if _, err := m.blobs.Put(ctx, LatestPath(entityID), data); err != nil {
		return nil, "", eris.Wrap(err, "merge: write latest")
	}

	log.Info("merge: unified record written",
		zap.String("location", loc),
		zap.Int("sources", len(latest)),
		zap.Int("executives", unified.DataCompleteness.ExecutiveCount),
		zap.Int("findings", unified.DataCompleteness.FindingCount),
	)
	return unified, loc, nil
}

// Latest reads the newest unified record of entityID from the blob store.
func (m *Merger) Latest(ctx context.Context, entityID string) (*model.UnifiedRecord, error) {
	data, err := m.blobs.Get(ctx, LatestPath(entityID))
	if err != nil {
		return nil, err
	}
	var u model.UnifiedRecord
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, eris.Wrapf(err, "merge: decode unified record for %s", entityID)
	}
	return &u, nil
}

// Build assembles a unified record from the chosen record of each kind. The
// result depends only on its inputs.
func Build(entityID string, records map[model.PipelineKind]*store.StoredRecord) *model.UnifiedRecord {
	u := &model.UnifiedRecord{
		EntityID:     entityID,
		Executives:   []model.ExecutiveProfile{},
		AdverseMedia: []model.Finding{},
		Sources:      make(map[model.PipelineKind]string, len(records)),
	}

	for _, kind := range model.PipelineKinds {
		sr, ok := records[kind]
		if !ok || sr == nil {
			continue
		}
		u.Sources[kind] = sr.SortKey
		if u.EntityName == "" {
			u.EntityName = sr.Record.EntityName
		}

		switch p := sr.Record.Payload.(type) {
		case *model.CompanyProfile:
			u.SECData = p
			u.DataCompleteness.HasSECData = true
		case *model.ExecutiveList:
			if p.Executives != nil {
				u.Executives = p.Executives
			}
			u.DataCompleteness.HasExecutiveData = len(u.Executives) > 0
		case *model.AdverseMediaResult:
			if p.Findings != nil {
				u.AdverseMedia = p.Findings
			}
			u.DataCompleteness.HasAdverseMediaData = true
		case *model.SanctionsResult:
			u.Sanctions = &model.SanctionsSection{
				CompanyMatches:   nonNil(p.CompanyMatches),
				ExecutiveMatches: nonNil(p.ExecutiveMatches),
			}
			u.DataCompleteness.HasSanctionsData = true
		}
	}

	u.DataCompleteness.ExecutiveCount = len(u.Executives)
	u.DataCompleteness.FindingCount = len(u.AdverseMedia)
	return u
}

// Encode renders u as indented JSON. Map keys are sorted, so equal records
// encode to equal bytes.
func Encode(u *model.UnifiedRecord) ([]byte, error) {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "merge: encode unified record")
	}
	return append(data, '\n'), nil
}

func nonNil(ms []model.WatchlistMatch) []model.WatchlistMatch {
	if ms == nil {
		return []model.WatchlistMatch{}
	}
	return ms
}
