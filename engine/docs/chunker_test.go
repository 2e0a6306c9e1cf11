package docs

import (
	"strings"
	"testing"

	"github.com/nexusmem/graphrag/engine/domain"
)

func TestChunkText_MonotonicNonOverlappingPositions(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. It ran through the forest. " +
		"Birds scattered as it passed. The sun was setting behind the hills."
	chunks := chunkText("doc-1", text, 8, 2)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	prevEnd := -1
	for i, c := range chunks {
		if c.DocumentID != "doc-1" {
			t.Fatalf("chunk %d: documentId = %q, want doc-1", i, c.DocumentID)
		}
		if c.Index != i {
			t.Fatalf("chunk %d: index = %d, want %d", i, c.Index, i)
		}
		if c.StartByte < prevEnd {
			t.Fatalf("chunk %d: startByte %d precedes previous chunk end %d", i, c.StartByte, prevEnd)
		}
		if c.EndByte <= c.StartByte {
			t.Fatalf("chunk %d: endByte %d <= startByte %d", i, c.EndByte, c.StartByte)
		}
		prevEnd = c.EndByte
	}
}

func TestChunkText_EmptyInputYieldsNoChunks(t *testing.T) {
	if chunks := chunkText("doc-1", "", DefaultChunkSize, DefaultOverlap); chunks != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", chunks)
	}
}

func TestChunkText_SingleShortSentenceIsOneChunk(t *testing.T) {
	chunks := chunkText("doc-1", "A short note.", DefaultChunkSize, DefaultOverlap)
	if len(chunks) != 1 {
		t.Fatalf("expected single-chunk storage for small content, got %d chunks", len(chunks))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want domain.ChunkType
	}{
		{"# Getting started", domain.ChunkHeader},
		{"Installation", domain.ChunkHeader},
		{"```go\nfunc main() {}\n```", domain.ChunkCode},
		{"    indented code block", domain.ChunkCode},
		{"This is a normal paragraph with several words in it.", domain.ChunkParagraph},
	}
	for _, tc := range cases {
		if got := classify(tc.text); got != tc.want {
			t.Errorf("classify(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestSplitSentences_PreservesByteRanges(t *testing.T) {
	text := "First sentence. Second sentence."
	sentences := splitSentences(text)
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(sentences))
	}
	for _, s := range sentences {
		if text[s.startByte:s.endByte] != s.text {
			t.Errorf("byte range [%d:%d] = %q, want %q", s.startByte, s.endByte, text[s.startByte:s.endByte], s.text)
		}
	}
}

func TestChunkText_ReassemblesOriginalWords(t *testing.T) {
	text := "One. Two. Three. Four. Five."
	chunks := chunkText("doc-1", text, 2, 0)
	var words []string
	for _, c := range chunks {
		words = append(words, strings.Fields(c.Text)...)
	}
	if got := strings.Join(words, " "); got != "One. Two. Three. Four. Five." {
		t.Errorf("reassembled chunks = %q, want original sentence sequence preserved", got)
	}
}
