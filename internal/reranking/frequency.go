package reranking

import (
	"sort"

	"github.com/kalambet/vttrag/internal/retrieval"
)

// DefaultTopN is the number of chunks kept after ranking.
const DefaultTopN = 3

// RankedChunk is a retrieved record annotated with the number of query
// variants whose results contained it.
type RankedChunk struct {
	retrieval.ScoredRecord
	Frequency int
}

// orderedCounts is a map from record ID to its running count that remembers
// insertion order, which breaks frequency ties.
type orderedCounts struct {
	index map[string]int
	items []RankedChunk
}

func (o *orderedCounts) add(r retrieval.ScoredRecord) {
	if i, ok := o.index[r.ID]; ok {
		o.items[i].Frequency++
		return
	}
	o.index[r.ID] = len(o.items)
	o.items = append(o.items, RankedChunk{ScoredRecord: r, Frequency: 1})
}

// ByFrequency merges per-variant result lists and returns the n records that
// appear in the most lists, most frequent first. Identity is the
// store-assigned record ID; a record repeated within one list counts once.
// Ties keep first-seen order across lists taken in the order given, and the
// first occurrence supplies the returned score. n <= 0 selects DefaultTopN.
func ByFrequency(lists [][]retrieval.ScoredRecord, n int) []RankedChunk {
	if n <= 0 {
		n = DefaultTopN
	}
	counts := &orderedCounts{index: make(map[string]int)}
	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for _, r := range list {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			counts.add(r)
		}
	}

	ranked := counts.items
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Frequency > ranked[j].Frequency
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
