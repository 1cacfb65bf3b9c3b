package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/server/journal"
)

// Ledger answers questions about recorded uploads.
type Ledger interface {
	PartitionTotals(ctx context.Context, partition string) (*journal.Totals, error)
	Uploads(ctx context.Context, partition string) ([]ingest.Receipt, error)
}

// WithLedger enables GET /proxy/partitions/{day}. partitionFor maps a day
// onto the partition key the ledger stores.
func WithLedger(l Ledger, partitionFor func(day time.Time) string) Option {
	return func(s *Server) {
		s.ledger = l
		s.partitionFor = partitionFor
	}
}

type uploadJSON struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Digest   string    `json:"digest"`
	Mode     string    `json:"mode"`
	StoredAt time.Time `json:"stored_at"`
}

type partitionJSON struct {
	Partition string       `json:"partition"`
	Files     int64        `json:"files"`
	Bytes     int64        `json:"bytes"`
	UpdatedAt time.Time    `json:"updated_at"`
	Uploads   []uploadJSON `json:"uploads"`
}

// HandlePartition reports the totals and uploads of one yyyyMMdd partition.
func (s *Server) HandlePartition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, err := time.Parse(common.PartitionLayout, mux.Vars(r)["day"])
	if err != nil {
		s.textResponse(w, http.StatusBadRequest, "invalid day")
		return
	}
	partition := s.partitionFor(day)

	totals, err := s.ledger.PartitionTotals(ctx, partition)
	if errors.Is(err, journal.ErrNoPartition) {
		s.textResponse(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Error(ctx, "partition totals", "partition", partition, "error", err)
		s.textResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	receipts, err := s.ledger.Uploads(ctx, partition)
	if err != nil {
		s.logger.Error(ctx, "partition uploads", "partition", partition, "error", err)
		s.textResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := partitionJSON{
		Partition: totals.Partition,
		Files:     totals.Files,
		Bytes:     totals.Bytes,
		UpdatedAt: totals.UpdatedAt,
		Uploads:   make([]uploadJSON, 0, len(receipts)),
	}
	for _, rc := range receipts {
		resp.Uploads = append(resp.Uploads, uploadJSON{
			ID:       rc.ID.String(),
			Filename: rc.Filename,
			Path:     rc.Path,
			Size:     rc.Size,
			Digest:   rc.Digest,
			Mode:     string(rc.Mode),
			StoredAt: rc.StoredAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug(ctx, "write response", "error", err)
	}
}
