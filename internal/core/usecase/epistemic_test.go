package usecase

import (
	"testing"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

func fusedWith(id, snippet string, rank int) domain.FusedResult {
	return domain.FusedResult{
		RetrievalCandidate: domain.RetrievalCandidate{
			SourceID:  id,
			Title:     "note " + id,
			Snippet:   snippet,
			MatchType: domain.MatchExact,
		},
		FinalScore: 6.0,
		Rank:       rank,
	}
}

func TestClassifyChunksGradesLevels(t *testing.T) {
	concept := "conscience"
	results := []domain.FusedResult{
		fusedWith("a1", "Conscience is defined as the inner moral sense.", 1),
		fusedWith("a2", "Conscience means an internal compass for right action.", 2),
		fusedWith("a3", "My conscience is very important to me.", 3),
		fusedWith("b1", "Yesterday I thought about conscience while walking.", 4),
		fusedWith("c1", "The weather was cold and the coffee was bitter.", 5),
	}

	chunks := classifyChunks(concept, results)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}

	wantLevels := map[string]domain.EpistemicLevel{
		"a1": domain.LevelA,
		"a2": domain.LevelA,
		"a3": domain.LevelA,
		"b1": domain.LevelB,
		"c1": domain.LevelC,
	}
	for _, c := range chunks {
		if want := wantLevels[c.SourceID]; c.Level != want {
			t.Fatalf("chunk %s graded %q, want %q", c.SourceID, c.Level, want)
		}
	}
}

func TestClassifyChunksAnswerabilityOrdersLevels(t *testing.T) {
	chunks := classifyChunks("conscience", []domain.FusedResult{
		fusedWith("a1", "Conscience is defined as the moral sense.", 1),
		fusedWith("b1", "A note mentioning conscience in passing.", 2),
		fusedWith("c1", "Nothing relevant here at all.", 3),
	})

	byID := map[string]domain.Chunk{}
	for _, c := range chunks {
		byID[c.SourceID] = c
	}
	if !(byID["a1"].Answerability > byID["b1"].Answerability && byID["b1"].Answerability > byID["c1"].Answerability) {
		t.Fatalf("answerability should strictly order A > B > C: %+v", byID)
	}
}

func TestClassifyChunksEmptyConcept(t *testing.T) {
	chunks := classifyChunks("", []domain.FusedResult{
		fusedWith("a1", "Conscience is defined as the moral sense.", 1),
	})
	if chunks[0].Level != domain.LevelC {
		t.Fatalf("no concept means no grading basis, want level C, got %q", chunks[0].Level)
	}
}

func TestDecideAnswerMode(t *testing.T) {
	a := domain.Chunk{Level: domain.LevelA}
	b := domain.Chunk{Level: domain.LevelB}
	c := domain.Chunk{Level: domain.LevelC}

	cases := []struct {
		name        string
		chunks      []domain.Chunk
		intent      domain.QueryIntent
		exploratory bool
		want        domain.AnswerMode
	}{
		{"one A chunk quotes", []domain.Chunk{a, c}, domain.IntentDefinition, false, domain.ModeQuote},
		{"two B chunks quote", []domain.Chunk{b, b, c}, domain.IntentSimple, false, domain.ModeQuote},
		{"single B synthesizes", []domain.Chunk{b, c}, domain.IntentSimple, false, domain.ModeSynthesis},
		{"only C synthesizes", []domain.Chunk{c, c}, domain.IntentSimple, false, domain.ModeSynthesis},
		{"complex with A and B hybridizes", []domain.Chunk{a, b}, domain.IntentComplex, false, domain.ModeHybrid},
		{"comparative with A and B hybridizes", []domain.Chunk{a, b}, domain.IntentComparative, false, domain.ModeHybrid},
		{"complex without B quotes", []domain.Chunk{a}, domain.IntentComplex, false, domain.ModeQuote},
		{"exploratory wins", []domain.Chunk{a, b}, domain.IntentSimple, true, domain.ModeExplorer},
		{"exploratory intent wins", []domain.Chunk{a, b}, domain.IntentExploratory, false, domain.ModeExplorer},
		{"empty synthesizes", nil, domain.IntentSimple, false, domain.ModeSynthesis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decideAnswerMode(tc.chunks, tc.intent, tc.exploratory)
			if got != tc.want {
				t.Fatalf("decideAnswerMode = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAssembleContextOrdersByLevelThenRank(t *testing.T) {
	chunks := []domain.Chunk{
		{FusedResult: fusedWith("c1", "weather note", 1), Level: domain.LevelC},
		{FusedResult: fusedWith("b1", "mentions concept", 2), Level: domain.LevelB},
		{FusedResult: fusedWith("a2", "second definition", 4), Level: domain.LevelA},
		{FusedResult: fusedWith("a1", "first definition", 3), Level: domain.LevelA},
	}

	out := assembleContext(chunks, 0)
	gotOrder := []string{out[0].SourceID, out[1].SourceID, out[2].SourceID, out[3].SourceID}
	wantOrder := []string{"a1", "a2", "b1", "c1"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("context order = %v, want %v", gotOrder, wantOrder)
		}
	}
}

func TestAssembleContextHonorsCharBudget(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	chunks := []domain.Chunk{
		{FusedResult: fusedWith("a1", string(long), 1), Level: domain.LevelA},
		{FusedResult: fusedWith("a2", string(long), 2), Level: domain.LevelA},
		{FusedResult: fusedWith("b1", string(long), 3), Level: domain.LevelB},
	}

	out := assembleContext(chunks, 700)
	if len(out) != 2 {
		t.Fatalf("budget of 700 chars should keep 2 chunks, got %d", len(out))
	}
	if out[0].SourceID != "a1" || out[1].SourceID != "a2" {
		t.Fatalf("budget truncation must drop the lowest-priority chunks first: %+v", out)
	}

	// The budget never drops everything: the first chunk always survives.
	out = assembleContext(chunks, 10)
	if len(out) != 1 {
		t.Fatalf("a tiny budget still keeps the top chunk, got %d", len(out))
	}
}

func TestCoverageInNetwork(t *testing.T) {
	if coverageInNetwork([]domain.Chunk{{Level: domain.LevelC}}) {
		t.Fatalf("topical-only chunks are out of network")
	}
	if !coverageInNetwork([]domain.Chunk{{Level: domain.LevelC}, {Level: domain.LevelB}}) {
		t.Fatalf("a level B chunk is in-network coverage")
	}
	if !coverageInNetwork([]domain.Chunk{{Level: domain.LevelA}}) {
		t.Fatalf("a level A chunk is in-network coverage")
	}
}
