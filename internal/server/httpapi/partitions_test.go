package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/server/journal"
)

const testPartition = "hdfs://host:9020/data/2109/20240501"

type fakeLedger struct {
	asked     []string
	totalsErr error
	uploadErr error
}

func (f *fakeLedger) PartitionTotals(_ context.Context, partition string) (*journal.Totals, error) {
	f.asked = append(f.asked, partition)
	if f.totalsErr != nil {
		return nil, f.totalsErr
	}
	return &journal.Totals{
		Partition: partition,
		Files:     2,
		Bytes:     30,
		UpdatedAt: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeLedger) Uploads(_ context.Context, partition string) ([]ingest.Receipt, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return []ingest.Receipt{
		{ID: uuid.MustParse("6f1c7a52-8f3e-4c39-9b1e-2d0d6f9a1c11"), Filename: "a.txt", Partition: partition,
			Path: partition + "/a.txt", Size: 10, Digest: "aa", Mode: ingest.ModeDirect},
		{ID: uuid.MustParse("0b6e2a8e-4d1f-4a52-8a2b-7c9f3e5d1e22"), Filename: "b.bin", Partition: partition,
			Path: partition + "/b.bin", Size: 20, Digest: "bb", Mode: ingest.ModeEnvelope},
	}, nil
}

func partitionFor(day time.Time) string {
	return "hdfs://host:9020/data/2109/" + day.Format("20060102")
}

func getPartition(t *testing.T, l Ledger, day string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(":0", fakeKeys{}, &fakeIngester{}, logging.Nop{}, WithLedger(l, partitionFor))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/partitions/"+day, nil))
	return rec
}

func TestHandlePartition(t *testing.T) {
	l := &fakeLedger{}
	rec := getPartition(t, l, "20240501")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{testPartition}, l.asked)

	var got partitionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testPartition, got.Partition)
	assert.EqualValues(t, 2, got.Files)
	assert.EqualValues(t, 30, got.Bytes)
	require.Len(t, got.Uploads, 2)
	assert.Equal(t, "a.txt", got.Uploads[0].Filename)
	assert.Equal(t, "envelope", got.Uploads[1].Mode)
	assert.Equal(t, testPartition+"/b.bin", got.Uploads[1].Path)
}

func TestHandlePartition_Errors(t *testing.T) {
	tests := []struct {
		name   string
		ledger *fakeLedger
		day    string
		want   int
	}{
		{"unknown partition", &fakeLedger{totalsErr: journal.ErrNoPartition}, "20240502", http.StatusNotFound},
		{"totals failure", &fakeLedger{totalsErr: errors.New("db down")}, "20240501", http.StatusInternalServerError},
		{"uploads failure", &fakeLedger{uploadErr: errors.New("db down")}, "20240501", http.StatusInternalServerError},
		{"impossible date", &fakeLedger{}, "20241399", http.StatusBadRequest},
		{"not a day", &fakeLedger{}, "may-first", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := getPartition(t, tt.ledger, tt.day)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlePartition_DisabledWithoutLedger(t *testing.T) {
	s := NewServer(":0", fakeKeys{}, &fakeIngester{}, logging.Nop{})
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/partitions/20240501", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
