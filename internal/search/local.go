package search

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Local is the fallback Searcher used when Meilisearch is unavailable.
// It holds the latest snapshot of searchable records in memory and does
// case-insensitive substring matching, which mirrors the matching the
// wave filter applies client-side.
type Local struct {
	mu    sync.RWMutex
	waves []WaveRecord
	blips []BlipRecord
}

func NewLocal() *Local {
	return &Local{}
}

// Replace swaps in a fresh snapshot of searchable records.
func (l *Local) Replace(waves []WaveRecord, blips []BlipRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waves = waves
	l.blips = blips
}

// Healthy always reports true; the in-memory fallback has no remote
// dependency to lose.
func (l *Local) Healthy() bool {
	return true
}

// Search scans the held records for case-insensitive substring matches.
func (l *Local) Search(q Query) ([]Result, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	var results []Result

	if q.FilterType == "" || q.FilterType == ResultWave {
		for _, w := range l.waves {
			if q.FilterDomainID != "" && w.DomainID != q.FilterDomainID {
				continue
			}
			if !waveMatches(w, needle) {
				continue
			}
			results = append(results, Result{
				Type:   ResultWave,
				ID:     w.ID,
				WaveID: w.ID,
				Title:  w.Title,
			})
		}
	}

	if q.FilterType == "" || q.FilterType == ResultBlip {
		for _, b := range l.blips {
			if !strings.Contains(strings.ToLower(b.Content), needle) {
				continue
			}
			results = append(results, Result{
				Type:    ResultBlip,
				ID:      b.ID,
				WaveID:  b.WaveID,
				Snippet: snippet(b.Content, needle),
			})
		}
	}

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func waveMatches(w WaveRecord, needle string) bool {
	if strings.Contains(strings.ToLower(w.Title), needle) {
		return true
	}
	for _, tag := range w.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// snippet returns a short window of content around the first match.
func snippet(content, needle string) string {
	const window = 60
	idx := strings.Index(strings.ToLower(content), needle)
	if idx < 0 || idx > len(content) {
		return content
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + window/2
	if end > len(content) {
		end = len(content)
	}
	// widen the window to rune boundaries so multi-byte runes never get cut
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return content[start:end]
}
