package cloudsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxHistoryEntries caps the history collection after a merge.
	MaxHistoryEntries = 10000

	maxRating = 5
)

// RatingRecord is one rated or played track, keyed by content hash.
type RatingRecord struct {
	ID        uint32 `json:"metadataHash"`
	Rating    int    `json:"rating"`
	PlayCount uint32 `json:"playCount"`
}

// Ratings is the local ratings collection keyed by ID.
type Ratings map[uint32]RatingRecord

// HistoryRecord is one playback event. Timestamp is ISO-8601 without
// zone, so lexical order is chronological order.
type HistoryRecord struct {
	Timestamp string `json:"timestamp"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	ID        uint32 `json:"metadataHash"`
}

type ratingsDocument struct {
	Ratings []RatingRecord `json:"ratings"`
}

func clampRating(r int) int {
	switch {
	case r < 0:
		return 0
	case r > maxRating:
		return maxRating
	}

	return r
}

// DecodeRatings parses the ratings wire format. Empty input yields an
// empty collection. Ratings are clamped to 0..5 and records carrying
// neither a rating nor a play are dropped.
func DecodeRatings(data []byte) (Ratings, error) {
	out := make(Ratings)
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var doc ratingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding ratings: %w", err)
	}

	for _, r := range doc.Ratings {
		r.Rating = clampRating(r.Rating)
		if r.Rating == 0 && r.PlayCount == 0 {
			continue
		}
		out[r.ID] = r
	}

	return out, nil
}

// EncodeRatings writes the ratings wire format, sorted by ID.
func EncodeRatings(r Ratings) ([]byte, error) {
	doc := ratingsDocument{Ratings: make([]RatingRecord, 0, len(r))}

	for id, rec := range r {
		rec.ID = id
		rec.Rating = clampRating(rec.Rating)
		if rec.Rating == 0 && rec.PlayCount == 0 {
			continue
		}
		doc.Ratings = append(doc.Ratings, rec)
	}

	sort.Slice(doc.Ratings, func(i, j int) bool {
		return doc.Ratings[i].ID < doc.Ratings[j].ID
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: ratings: %w", cserrors.ErrSerialization, err)
	}

	return data, nil
}

// DecodeHistory parses the history wire format, a JSON array ordered
// most recent first. Titles and authors are NFC-normalized so the same
// track logged on different platforms compares equal.
func DecodeHistory(data []byte) ([]HistoryRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []HistoryRecord{}, nil
	}

	var out []HistoryRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	for i := range out {
		out[i].Title = norm.NFC.String(out[i].Title)
		out[i].Author = norm.NFC.String(out[i].Author)
	}

	if out == nil {
		out = []HistoryRecord{}
	}

	return out, nil
}

// EncodeHistory writes the history wire format.
func EncodeHistory(h []HistoryRecord) ([]byte, error) {
	if h == nil {
		h = []HistoryRecord{}
	}

	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("%w: history: %w", cserrors.ErrSerialization, err)
	}

	return data, nil
}
