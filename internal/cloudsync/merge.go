package cloudsync

import "sort"

// MergeRatings reconciles a downloaded snapshot with local ratings.
// Remote wins on rating; play counts take the larger side. IDs only
// present locally are kept. With no local data the remote snapshot is
// adopted as is. Neither input is modified.
func MergeRatings(local, remote Ratings) Ratings {
	out := make(Ratings, len(local)+len(remote))

	if len(local) == 0 {
		for id, r := range remote {
			out[id] = r
		}
		return out
	}

	for id, r := range local {
		out[id] = r
	}

	for id, r := range remote {
		merged := r
		if l, ok := local[id]; ok && l.PlayCount > merged.PlayCount {
			merged.PlayCount = l.PlayCount
		}
		out[id] = merged
	}

	return out
}

type historyKey struct {
	timestamp string
	id        uint32
}

// MergeHistory unions local and remote entries keyed by (timestamp, id),
// remote overwriting on collision, then orders newest first and keeps
// at most MaxHistoryEntries.
func MergeHistory(local, remote []HistoryRecord) []HistoryRecord {
	set := make(map[historyKey]HistoryRecord, len(local)+len(remote))

	for _, h := range local {
		set[historyKey{h.Timestamp, h.ID}] = h
	}
	for _, h := range remote {
		set[historyKey{h.Timestamp, h.ID}] = h
	}

	out := make([]HistoryRecord, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > MaxHistoryEntries {
		out = out[:MaxHistoryEntries]
	}

	return out
}
