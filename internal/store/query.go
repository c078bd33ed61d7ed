package store

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/clearcmos/nixnavd/internal/trigram"
	"github.com/clearcmos/nixnavd/internal/types"
)

// Mode restricts which kind of FileRecord a query may return.
type Mode int

const (
	ModeAll Mode = iota
	ModeFiles
	ModeDirs
)

// QueryOptions carries an already-parsed query (spec §4.3 step 1-2 have
// already stripped any "name:" and "*.ext " prefixes by the time this
// reaches the Store; internal/protocol owns that parsing).
type QueryOptions struct {
	// Search is the literal (case-insensitive) substring to match against
	// a file's basename. Empty means "enumerate".
	Search string

	// RootPrefixes restricts results to files whose path has one of these
	// prefixes (a single bookmark root for SEARCH, several for
	// SEARCH_ALL). Empty/nil means unrestricted.
	RootPrefixes []string

	// Extension, without a leading dot, restricts results to files whose
	// basename ends in "."+Extension (case-insensitive). Empty means no
	// filter.
	Extension string

	Mode Mode

	// Limit is clamped to [1, HardResultCap]; non-positive uses
	// DefaultResultLimit.
	Limit int
}

func (o QueryOptions) effectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultResultLimit
	}
	if o.Limit > HardResultCap {
		return HardResultCap
	}
	return o.Limit
}

func matchesPrefixes(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func matchesExtension(path, ext string) bool {
	if ext == "" {
		return true
	}
	got := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.EqualFold(got, ext)
}

func matchesMode(isDir bool, mode Mode) bool {
	switch mode {
	case ModeFiles:
		return !isDir
	case ModeDirs:
		return isDir
	default:
		return true
	}
}

// matchKind classifies how strongly basename (already case-folded) matches
// a case-folded search string; lower is a stronger match, used for the
// ordering comparator (spec §4.3 step 5 / §9 Open Question, decided).
type matchKind int

const (
	matchExact matchKind = iota
	matchPrefix
	matchSubstring
	matchNone
)

func classifyMatch(basenameLower, searchLower string) matchKind {
	if searchLower == "" {
		return matchSubstring // enumeration: no preference beyond tie-breakers
	}
	idx := strings.Index(basenameLower, searchLower)
	if idx < 0 {
		return matchNone
	}
	if idx == 0 && len(basenameLower) == len(searchLower) {
		return matchExact
	}
	if idx == 0 {
		return matchPrefix
	}
	return matchSubstring
}

// Query runs the full query algorithm (spec §4.3): trigram extraction,
// ascending-cardinality intersection, per-candidate verification, filter
// application, deterministic ordering and limit truncation.
func (s *Store) Query(opts QueryOptions) []types.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searchLower := trigram.ToLower(opts.Search)
	trigrams := trigram.ExtractOrdered(searchLower)

	var candidateIDs []uint32
	if len(trigrams) == 0 {
		candidateIDs = s.enumerateCandidatesLocked()
	} else {
		bm, ok := s.intersectPostingsLocked(trigrams)
		if !ok || bm.IsEmpty() {
			return nil
		}
		candidateIDs = bm.ToArray()
	}

	limit := opts.effectiveLimit()
	results := make([]types.FileRecord, 0, minInt(len(candidateIDs), limit*4))
	kinds := make([]matchKind, 0, cap(results))

	for _, low := range candidateIDs {
		id := types.FileId(low)
		rec, ok := s.records[id]
		if !ok {
			continue // soundness: transient posting awaiting removal
		}
		if !matchesPrefixes(rec.Path, opts.RootPrefixes) {
			continue
		}
		if !matchesExtension(rec.Path, opts.Extension) {
			continue
		}
		if !matchesMode(rec.IsDir, opts.Mode) {
			continue
		}
		base := trigram.ToLower(filepath.Base(rec.Path))
		kind := classifyMatch(base, searchLower)
		if kind == matchNone {
			continue // reject trigram false positives
		}
		results = append(results, *rec)
		kinds = append(kinds, kind)
	}

	sortResults(results, kinds)

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *Store) enumerateCandidatesLocked() []uint32 {
	ids := make([]uint32, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, idLow32(id))
	}
	return ids
}

// intersectPostingsLocked intersects the posting lists of every trigram in
// ascending order of list length, as spec §4.3 step 3 requires for
// efficiency. Returns ok=false if any trigram has no posting list (the
// overall result is empty).
func (s *Store) intersectPostingsLocked(trigrams []trigram.Trigram) (*roaring.Bitmap, bool) {
	bitmaps := make([]*roaring.Bitmap, 0, len(trigrams))
	for _, t := range trigrams {
		bm, ok := s.postings[t.Key()]
		if !ok || bm.IsEmpty() {
			return nil, false
		}
		bitmaps = append(bitmaps, bm)
	}
	sort.Slice(bitmaps, func(i, j int) bool {
		return bitmaps[i].GetCardinality() < bitmaps[j].GetCardinality()
	})
	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		result.And(bm)
		if result.IsEmpty() {
			return result, true
		}
	}
	return result, true
}

type scoredRecord struct {
	rec  types.FileRecord
	kind matchKind
}

// sortResults applies the ordering invariant of spec §4.3 step 5: exact
// basename match before prefix before substring, then shorter path before
// longer, then lexicographic as the final tie-break.
func sortResults(results []types.FileRecord, kinds []matchKind) {
	scored := make([]scoredRecord, len(results))
	for i, rec := range results {
		scored[i] = scoredRecord{rec: rec, kind: kinds[i]}
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].kind != scored[b].kind {
			return scored[a].kind < scored[b].kind
		}
		if len(scored[a].rec.Path) != len(scored[b].rec.Path) {
			return len(scored[a].rec.Path) < len(scored[b].rec.Path)
		}
		return scored[a].rec.Path < scored[b].rec.Path
	})
	for i, sc := range scored {
		results[i] = sc.rec
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
