package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// the in-memory index.
type Service struct {
	meili *Meili
	local *Local
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, local *Local) *Service {
	return &Service{meili: meili, local: local}
}

// Search tries Meilisearch if healthy, otherwise uses the local index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to local index: %v", err)
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		log.Printf("search: local index error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexWave indexes a wave (fire-and-forget to Meilisearch).
func (s *Service) IndexWave(w WaveRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexWave(w); err != nil {
			log.Printf("search: index wave %s: %v", w.ID, err)
		}
	}()
}

// IndexBlip indexes a blip (fire-and-forget to Meilisearch).
func (s *Service) IndexBlip(b BlipRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBlip(b); err != nil {
			log.Printf("search: index blip %s: %v", b.ID, err)
		}
	}()
}

// DeleteWave removes a wave from the search index (fire-and-forget).
func (s *Service) DeleteWave(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteWave(id); err != nil {
			log.Printf("search: delete wave %s: %v", id, err)
		}
	}()
}

// DeleteBlip removes a blip from the search index (fire-and-forget).
func (s *Service) DeleteBlip(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBlip(id); err != nil {
			log.Printf("search: delete blip %s: %v", id, err)
		}
	}()
}

// ReindexAll replaces the local index and, when Meilisearch is healthy,
// bulk-pushes the same records there. Called after each snapshot load.
func (s *Service) ReindexAll(waves []WaveRecord, blips []BlipRecord) {
	if s.local != nil {
		s.local.Replace(waves, blips)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexWaves(waves); err != nil {
		log.Printf("search: reindex waves: %v", err)
	}
	if err := s.meili.IndexBlips(blips); err != nil {
		log.Printf("search: reindex blips: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
