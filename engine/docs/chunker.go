package docs

import (
	"strings"
	"unicode"

	"github.com/nexusmem/graphrag/engine/domain"
)

// DefaultChunkSize is the target number of tokens per chunk.
const DefaultChunkSize = 512

// DefaultOverlap is the number of overlapping tokens between chunks.
const DefaultOverlap = 50

type sentence struct {
	text       string
	startByte  int
	endByte    int
}

// splitSentences splits text into sentences using punctuation and newlines,
// tracking each sentence's byte range within the original text.
func splitSentences(text string) []sentence {
	var sentences []sentence
	start := 0
	var current strings.Builder

	flush := func(end int) {
		s := strings.TrimSpace(current.String())
		if s != "" {
			// Re-find the trimmed range within [start, end) so leading/trailing
			// whitespace stripped by TrimSpace doesn't widen the byte range.
			raw := text[start:end]
			lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
			trail := len(raw) - len(strings.TrimRight(raw, " \t\r\n"))
			sentences = append(sentences, sentence{text: s, startByte: start + lead, endByte: end - trail})
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i+len(string(r)) == len(text) || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				flush(i + len(string(r)))
				start = i + len(string(r))
			}
		}
	}
	if start < len(text) {
		flush(len(text))
	}
	return sentences
}

// chunkText groups sentences into chunks of ~chunkSize tokens with overlap,
// tagging each chunk with a ChunkType inferred from its content. Token count
// is approximated as word count, matching the teacher's ingestion chunker.
func chunkText(documentID, text string, chunkSize, overlap int) []domain.Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []domain.Chunk
	idx := 0
	start := 0

	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start

		for end < len(sentences) {
			words := wordCount(sentences[end].text)
			if tokens+words > chunkSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end].text)
			tokens += words
			end++
		}

		chunkStr := buf.String()
		chunks = append(chunks, domain.Chunk{
			DocumentID: documentID,
			Text:       chunkStr,
			StartByte:  sentences[start].startByte,
			EndByte:    sentences[end-1].endByte,
			TokenCount: tokens,
			Type:       classify(chunkStr),
			Index:      idx,
		})
		idx++

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart].text)
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}

// classify tags a chunk's content type: a fenced/indented block reads as
// code, a short line with no terminal punctuation reads as a header,
// everything else is a paragraph.
func classify(text string) domain.ChunkType {
	trimmed := strings.TrimSpace(text)
	if strings.Contains(trimmed, "```") || strings.HasPrefix(text, "\t") || strings.HasPrefix(text, "    ") {
		return domain.ChunkCode
	}
	if strings.HasPrefix(trimmed, "#") {
		return domain.ChunkHeader
	}
	firstLine := trimmed
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		firstLine = trimmed[:i]
	}
	if wordCount(firstLine) <= 8 && !strings.ContainsAny(firstLine, ".!?") && firstLine == trimmed {
		return domain.ChunkHeader
	}
	return domain.ChunkParagraph
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
