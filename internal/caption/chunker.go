package caption

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars is the chunk length bound used when none is given.
const DefaultMaxChunkChars = 400

// Chunk is a run of consecutive cues merged into one retrieval unit.
type Chunk struct {
	Text           string
	StartSeconds   float64
	EndSeconds     float64
	StartTimestamp string
	EndTimestamp   string
	Cues           []Cue
}

// ChunkCues groups cues greedily into chunks whose space-joined text stays
// within maxChars runes. A cue is never split: one that is longer than
// maxChars on its own becomes a single-cue chunk. maxChars <= 0 selects
// DefaultMaxChunkChars.
func ChunkCues(cues []Cue, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var chunks []Chunk
	var buf []Cue
	bufLen := 0

	for _, cue := range cues {
		cueLen := utf8.RuneCountInString(cue.Text)
		if len(buf) > 0 && bufLen+1+cueLen > maxChars {
			chunks = append(chunks, newChunk(buf))
			buf = nil
			bufLen = 0
		}
		if len(buf) > 0 {
			bufLen++ // joining space
		}
		buf = append(buf, cue)
		bufLen += cueLen
	}
	if len(buf) > 0 {
		chunks = append(chunks, newChunk(buf))
	}
	return chunks
}

func newChunk(cues []Cue) Chunk {
	texts := make([]string, len(cues))
	for i, c := range cues {
		texts[i] = c.Text
	}
	first, last := cues[0], cues[len(cues)-1]
	return Chunk{
		Text:           strings.Join(texts, " "),
		StartSeconds:   first.StartSeconds,
		EndSeconds:     last.EndSeconds,
		StartTimestamp: first.StartTimestamp,
		EndTimestamp:   last.EndTimestamp,
		Cues:           cues,
	}
}
