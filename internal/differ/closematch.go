package differ

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/yairfalse/vahti/pkg/types"
)

// CloseMatchCutoff is the minimum line similarity for a stored version to serve as diff base
const CloseMatchCutoff = 0.6

// Similarity returns the difflib ratio between two texts compared line by line
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(splitLines(a), splitLines(b))
	return m.Ratio()
}

// CloseMatch returns the candidate most similar to data, if any reaches CloseMatchCutoff.
// Ties go to the earlier candidate.
func CloseMatch(data string, candidates []types.Snapshot) (types.Snapshot, bool) {
	best := -1
	bestRatio := CloseMatchCutoff
	for i, candidate := range candidates {
		ratio := Similarity(candidate.Data, data)
		if ratio > bestRatio || (ratio == bestRatio && best == -1) {
			best = i
			bestRatio = ratio
		}
	}
	if best < 0 {
		return types.Snapshot{}, false
	}
	return candidates[best], true
}

// selectBase swaps the old capture for the closest stored version when history is present
func selectBase(in Input) Input {
	if len(in.History) == 0 {
		return in
	}
	for _, snapshot := range in.History {
		if snapshot.Data == in.NewData {
			in.OldData, in.OldTimestamp, in.OldMimeType = snapshot.Data, snapshot.Timestamp, snapshot.MimeType
			return in
		}
	}
	if match, ok := CloseMatch(in.NewData, in.History); ok {
		in.OldData, in.OldTimestamp, in.OldMimeType = match.Data, match.Timestamp, match.MimeType
	}
	return in
}
