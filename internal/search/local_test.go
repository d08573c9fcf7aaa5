package search

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func snapshotFixture() ([]WaveRecord, []BlipRecord) {
	waves := []WaveRecord{
		{ID: "wave_1", Title: "Budget Planning", Tags: []string{"finance"}, DomainID: "domain_ops"},
		{ID: "wave_2", Title: "Garden Rota", Tags: []string{"outdoors"}, DomainID: "domain_land"},
	}
	blips := []BlipRecord{
		{ID: "blip_1", WaveID: "wave_1", Content: "We should revisit the budget next month.", AuthorID: "user_a"},
		{ID: "blip_2", WaveID: "wave_2", Content: "Compost delivery arrives Tuesday.", AuthorID: "user_b"},
	}
	return waves, blips
}

func TestLocalSearchMatchesTitleTagsAndContent(t *testing.T) {
	local := NewLocal()
	local.Replace(snapshotFixture())

	results, total, err := local.Search(Query{Text: "budget"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 hits, got %d", total)
	}
	foundWave, foundBlip := false, false
	for _, r := range results {
		switch r.Type {
		case ResultWave:
			foundWave = r.ID == "wave_1"
		case ResultBlip:
			foundBlip = r.WaveID == "wave_1"
		}
	}
	if !foundWave || !foundBlip {
		t.Fatalf("expected both a wave and a blip hit, got %+v", results)
	}

	results, _, err = local.Search(Query{Text: "outdoors"})
	if err != nil {
		t.Fatalf("tag search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "wave_2" {
		t.Fatalf("expected tag match on wave_2, got %+v", results)
	}
}

func TestLocalSearchCaseInsensitive(t *testing.T) {
	local := NewLocal()
	local.Replace(snapshotFixture())

	results, _, err := local.Search(Query{Text: "GARDEN"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "wave_2" {
		t.Fatalf("expected case-insensitive match, got %+v", results)
	}
}

func TestLocalSearchDomainFilter(t *testing.T) {
	local := NewLocal()
	local.Replace(snapshotFixture())

	results, _, err := local.Search(Query{Text: "a", FilterType: ResultWave, FilterDomainID: "domain_land"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.ID != "wave_2" {
			t.Fatalf("domain filter leaked wave %s", r.ID)
		}
	}
}

func TestLocalSearchEmptyQuery(t *testing.T) {
	local := NewLocal()
	local.Replace(snapshotFixture())

	results, total, err := local.Search(Query{Text: "   "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Fatalf("blank query should match nothing, got %d hits", total)
	}
}

func TestServiceFallsBackToLocalWithoutMeili(t *testing.T) {
	local := NewLocal()
	local.Replace(snapshotFixture())
	svc := NewService(nil, local)

	resp := svc.Search(Query{Text: "compost"})
	if resp.Total != 1 {
		t.Fatalf("expected 1 hit, got %d", resp.Total)
	}
	if resp.Results[0].Type != ResultBlip || resp.Results[0].WaveID != "wave_2" {
		t.Fatalf("unexpected result %+v", resp.Results[0])
	}
	if resp.Query != "compost" {
		t.Fatalf("response must echo the query, got %q", resp.Query)
	}
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	content := strings.Repeat("é", 80) + " budget " + strings.Repeat("構", 80)
	got := snippet(content, "budget")
	if !utf8.ValidString(got) {
		t.Fatalf("snippet window split a rune: %q", got)
	}
	if !strings.Contains(got, "budget") {
		t.Fatalf("snippet %q lost the matched text", got)
	}

	short := "日本語のメモ"
	if got := snippet(short, "メモ"); got != short {
		t.Fatalf("snippet = %q, want the whole short content", got)
	}
}
