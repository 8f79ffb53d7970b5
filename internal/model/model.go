package model

import (
	"fmt"
	"strings"
)

// MaxK is the longest k-mer that fits the 2-bit encoding of a KMer.
const MaxK = 32

// KMer is a 2-bit packed k-mer (A=0, C=1, G=2, T=3), first base in the
// most significant position.
type KMer uint64

// FileID identifies the temp file a k-mer batch was read from.
type FileID uint32

// DeviceClass tells the negotiator which kind of hasher a device belongs to.
type DeviceClass uint8

const (
	CPU DeviceClass = iota
	Accelerator
)

func (c DeviceClass) String() string {
	switch c {
	case CPU:
		return "cpu"
	case Accelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

const bases = "ACGT"

// Encode packs a base string into a KMer. Only A, C, G and T are accepted.
func Encode(s string) (KMer, error) {
	if len(s) == 0 || len(s) > MaxK {
		return 0, fmt.Errorf("k-mer length %d out of range [1,%d]", len(s), MaxK)
	}
	var km KMer
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(bases, s[i]&^0x20) // upper-case
		if idx < 0 {
			return 0, fmt.Errorf("invalid base %q at position %d", s[i], i)
		}
		km = km<<2 | KMer(idx)
	}
	return km, nil
}

// Decode renders the k-mer as a base string of length k.
func (km KMer) Decode(k int) string {
	if k <= 0 || k > MaxK {
		return ""
	}
	buf := make([]byte, k)
	for i := k - 1; i >= 0; i-- {
		buf[i] = bases[km&3]
		km >>= 2
	}
	return string(buf)
}

// KMerBatch is a group of k-mers read from one temp file.
type KMerBatch struct {
	FileID FileID
	KMers  []KMer
}

// KMerCount is a counted k-mer as emitted by a table extraction.
type KMerCount struct {
	KMer  KMer
	Count uint32
}

// ResultBatch carries counts at or above the threshold from one extraction.
type ResultBatch struct {
	DeviceID int
	FileID   FileID
	// Seq numbers the batches of one extraction, starting at 0.
	Seq      uint32
	// Final is set on the last batch a device emits.
	Final    bool
	Entries  []KMerCount
}

// Stats holds the counters a hasher reports once it is done.
type Stats struct {
	KMers          uint64 `json:"kmers"`
	UniqueKMers    uint64 `json:"unique_kmers"`
	BelowThreshold uint64 `json:"below_threshold"`
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.KMers += other.KMers
	s.UniqueKMers += other.UniqueKMers
	s.BelowThreshold += other.BelowThreshold
}
