package indexer

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/pkg/types"
)

type encodedContribution struct {
	table   types.TableID
	key     []byte
	posting []byte
}

// contributionDigest fingerprints everything a file contributes. Equal
// digests mean the tables would receive identical postings.
func contributionDigest(contributions []types.Contribution) (uint64, error) {
	encoded := make([]encodedContribution, 0, len(contributions))
	for _, c := range contributions {
		key, err := storage.EncodeKey(c.Key)
		if err != nil {
			return 0, err
		}
		encoded = append(encoded, encodedContribution{
			table:   c.Table,
			key:     key,
			posting: storage.EncodePosting(c.Table.ValueShape(), c.Posting),
		})
	}
	slices.SortFunc(encoded, func(a, b encodedContribution) int {
		if a.table != b.table {
			return int(a.table) - int(b.table)
		}
		return bytes.Compare(a.key, b.key)
	})

	h := xxhash.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, c := range encoded {
		_, _ = h.Write([]byte{byte(c.table)})
		_, _ = h.Write(binary.AppendUvarint(lenBuf[:0], uint64(len(c.key))))
		_, _ = h.Write(c.key)
		_, _ = h.Write(binary.AppendUvarint(lenBuf[:0], uint64(len(c.posting))))
		_, _ = h.Write(c.posting)
	}
	return h.Sum64(), nil
}
