package models

import (
	"time"
)

// FileState is the storage tier a file currently occupies.
// The backend encodes it as an integer.
type FileState int

const (
	// StateLocal means the file content lives in the sync folder on disk
	StateLocal FileState = iota
	// StateCloud means the file content was offloaded to cloud storage
	StateCloud
)

// String returns the lowercase tier name used in listings.
func (s FileState) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// FileRecord is a file as reported by the backend metadata fetch.
// Name is the primary key for every operation and event.
// The client never constructs records; it only reflects backend snapshots.
type FileRecord struct {
	Name        string    `json:"name"`
	State       FileState `json:"state"`
	Size        int64     `json:"size"`
	Description string    `json:"description"`
	Checksum    string    `json:"checksum,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ChunkIDs    []string  `json:"chunk_ids,omitempty"`
}

// Clone returns a deep copy so snapshot consumers cannot alias registry memory.
func (f FileRecord) Clone() FileRecord {
	c := f
	if f.ChunkIDs != nil {
		c.ChunkIDs = make([]string, len(f.ChunkIDs))
		copy(c.ChunkIDs, f.ChunkIDs)
	}
	return c
}

// Totals aggregates a registry snapshot by storage tier.
type Totals struct {
	Files      int
	LocalFiles int
	CloudFiles int
	LocalBytes int64
	CloudBytes int64
}

// ComputeTotals sums sizes per tier. An empty slice yields zero totals.
func ComputeTotals(records []FileRecord) Totals {
	var t Totals
	for _, r := range records {
		t.Files++
		if r.State == StateCloud {
			t.CloudFiles++
			t.CloudBytes += r.Size
		} else {
			t.LocalFiles++
			t.LocalBytes += r.Size
		}
	}
	return t
}

// LocalMB returns local bytes in mebibytes, as shown in the status footer.
func (t Totals) LocalMB() float64 {
	return float64(t.LocalBytes) / 1024 / 1024
}

// CloudMB returns cloud bytes in mebibytes.
func (t Totals) CloudMB() float64 {
	return float64(t.CloudBytes) / 1024 / 1024
}
