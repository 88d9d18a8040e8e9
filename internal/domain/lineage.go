package domain

import "sort"

// Fold collapses an append-only record stream so that each build number
// appears once, carrying its last written state. The result is ordered by
// build number.
func Fold(records []BuildRecord) []BuildRecord {
	latest := make(map[int64]BuildRecord, len(records))
	for _, r := range records {
		latest[r.BuildNumber] = r
	}
	out := make([]BuildRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuildNumber < out[j].BuildNumber })
	return out
}

// LatestSuccess picks the newest successful, archived record strictly below
// a build number. Pending, failed and unarchived records are never
// candidates. An empty env matches every environment.
func LatestSuccess(folded []BuildRecord, env string, below int64) (BuildRecord, bool) {
	var (
		best  BuildRecord
		found bool
	)
	for _, r := range folded {
		if r.Result != ResultSuccess || !r.Archived || r.BuildNumber >= below {
			continue
		}
		if env != "" && r.Environment != env {
			continue
		}
		if !found || r.BuildNumber > best.BuildNumber {
			best, found = r, true
		}
	}
	return best, found
}
