package retrieve

import "testing"

func TestAdaptPrefersHybridForQuotedPhrases(t *testing.T) {
	if got := adapt(`find "check engine light" causes`); got != "hybrid" {
		t.Fatalf("expected hybrid for quoted phrase, got %s", got)
	}
}

func TestAdaptPrefersSemanticForShortQueries(t *testing.T) {
	if got := adapt("brake pads"); got != "semantic_chunks" {
		t.Fatalf("expected semantic_chunks for short query, got %s", got)
	}
}

func TestAdaptPrefersHybridForLongQueries(t *testing.T) {
	if got := adapt("why does my car make a clicking noise when turning left"); got != "hybrid" {
		t.Fatalf("expected hybrid for long query, got %s", got)
	}
}

func TestWeightsForStrategy(t *testing.T) {
	if w := weightsFor("semantic_chunks"); w.Vector != 1 || w.FTS != 0 {
		t.Fatalf("expected vector-only weights, got %+v", w)
	}
	if w := weightsFor("graph_traversal"); w.Graph != 1 || w.Vector != 0 {
		t.Fatalf("expected graph-only weights, got %+v", w)
	}
	if w := weightsFor("hybrid"); w != defaultHybridWeights {
		t.Fatalf("expected default hybrid weights, got %+v", w)
	}
}

func TestExtractKeywordsDropsStopWordsAndShortTokens(t *testing.T) {
	got := extractKeywords("what is the torque spec for a wheel bearing?")
	want := map[string]bool{"torque": true, "spec": true, "wheel": true, "bearing": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d keywords, got %v", len(want), got)
	}
	for _, k := range got {
		if !want[k] {
			t.Fatalf("unexpected keyword %q in %v", k, got)
		}
	}
}

func TestHasSource(t *testing.T) {
	hits := []Hit{{ID: "a", Sources: []Source{SourceFTS}}}
	if hasSource(hits, SourceVector) {
		t.Fatal("expected no vector source present")
	}
	if !hasSource(hits, SourceFTS) {
		t.Fatal("expected fts source present")
	}
}

func TestPaginate(t *testing.T) {
	hits := []Hit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if got := paginate(hits, 2, 0); len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got := paginate(hits, 2, 2); len(got) != 1 {
		t.Fatalf("expected 1 remaining hit, got %d", len(got))
	}
	if got := paginate(hits, 2, 10); len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
}
