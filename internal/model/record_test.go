package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRecord_RoundTripPerKind(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payloads := []Payload{
		&CompanyProfile{RegisteredLegalName: "Example Corp", Identifiers: CompanyIdentifiers{CIK: "0000123"}},
		&ExecutiveList{Executives: []ExecutiveProfile{{Name: "Jane Roe", Title: "Chief Executive Officer", RoleCategory: "CEO"}}},
		&AdverseMediaResult{Findings: []Finding{{EntityID: "example_corp", Category: CategoryLegal, SourceURL: "https://a", ExtractedAt: at}}},
		&SanctionsResult{CompanyMatches: []WatchlistMatch{{EntityID: "example_corp", MatchType: "OFAC_SDN", ConfidenceLevel: ConfidenceHigh, SourceURL: "https://ofac"}}},
	}

	for _, p := range payloads {
		rec := PipelineRecord{
			Kind:         p.PipelineKind(),
			RunID:        "run-1",
			EntityID:     "example_corp",
			Status:       RecordSuccess,
			Completeness: 80,
			RecordedAt:   at,
			Payload:      p,
		}
		data, err := json.Marshal(rec)
		require.NoError(t, err)

		var got PipelineRecord
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, rec.Kind, got.Kind)
		assert.Equal(t, rec.Payload, got.Payload)
	}
}

func TestPipelineRecord_FailedHasNoPayload(t *testing.T) {
	t.Parallel()

	rec := PipelineRecord{Kind: KindSanctions, Status: RecordFailed, Error: "timeout"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"payload"`)

	var got PipelineRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Nil(t, got.Payload)
	assert.Equal(t, "timeout", got.Error)
}

func TestPipelineRecord_KindMismatch(t *testing.T) {
	t.Parallel()

	rec := PipelineRecord{Kind: KindSEC, Payload: &ExecutiveList{}}
	_, err := json.Marshal(rec)
	require.Error(t, err)
}

func TestDecodePayload_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := DecodePayload("credit_report", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline kind")
}

func TestPipelineKinds_AllValid(t *testing.T) {
	t.Parallel()

	for _, k := range PipelineKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, PipelineKind("other").Valid())
}
