// Package ingest turns raw interview material into pipeline input: transcript
// chunking, the contractual CSV formats, and resumable source-file tracking.
package ingest

import (
	"fmt"
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

const (
	// maxChunkChars bounds a chunk so the extraction prompt stays well under
	// model context limits even with the system prompt attached.
	maxChunkChars = 2400
)

// Interview is the metadata shared by every chunk of one transcript.
type Interview struct {
	ClientID        string
	Company         string
	IntervieweeName string
	DealStatus      voc.DealStatus
	InterviewDate   string
	SourceRef       string // file name or import label
}

// Chunk is one extraction unit: a slice of transcript plus its interview metadata.
type Chunk struct {
	Interview
	Index int
	Ref   string
	Text  string
}

// ChunkTranscript splits raw interview text into chunks suitable for LLM
// extraction. It breaks on question boundaries and paragraph gaps, packing
// paragraphs up to the size bound.
func ChunkTranscript(text string, meta Interview) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentLen := 0
	idx := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(current, meta, idx))
		current = nil
		currentLen = 0
		idx++
	}

	for _, para := range paragraphs {
		// A new interviewer question starts a fresh chunk so each unit keeps
		// one question-answer arc together.
		if isQuestionBoundary(para) && currentLen > 0 {
			flush()
		}
		if currentLen > 0 && currentLen+len(para) > maxChunkChars {
			flush()
		}
		current = append(current, para)
		currentLen += len(para)
	}
	flush()

	return chunks
}

func buildChunk(paragraphs []string, meta Interview, idx int) Chunk {
	return Chunk{
		Interview: meta,
		Index:     idx,
		Ref:       fmt.Sprintf("%s#chunk-%d", meta.SourceRef, idx),
		Text:      strings.Join(paragraphs, "\n\n"),
	}
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}

var questionPrefixes = []string{"Q:", "Q.", "Interviewer:", "Moderator:"}

func isQuestionBoundary(para string) bool {
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(para, prefix) {
			return true
		}
	}
	return false
}
