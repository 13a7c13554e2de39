package composer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/vttrag/internal/reranking"
	"github.com/kalambet/vttrag/internal/retrieval"
)

// RefusalText is the exact reply required when the context lacks the answer.
const RefusalText = "I don't know (Not found in context)."

const instructions = `You are an AI teaching assistant that answers student questions using course video transcripts (VTT captions) and their metadata: course name, module name, video title and timestamps.

1. Answer ONLY from the Context Data below. If the answer is not found in it, respond with exactly: "` + RefusalText + `"
   - Do NOT hallucinate or assume details.
   - You may add a short clarification from general knowledge, but say clearly that it is outside the context.

2. If the answer is found in the context, give:
   - a concise explanation of the concept,
   - the course name,
   - the module name,
   - the video title,
   - the relevant timestamps from the transcript,
   - the time required to watch the relevant part.
   Timestamps in the metadata may be written as minutes or seconds (startSeconds and endSeconds are seconds). Convert them to hh:mm:ss. For the duration, add up (end - start) of ONLY the chunks you actually used in the explanation and write the total as hh:mm:ss.

3. If the context is ambiguous or incomplete, ask the student a clarifying question instead of guessing.

### Output Format (strictly follow this order):

a) Explanation: <your concise explanation>
b) Course Name: <course name>
c) Module Name: <module name>
d) Video Title: <video title>
e) Relevant Timestamps: <timestamps>
f) Duration to Watch: <hh:mm:ss>

---

Context Data:
`

// contextEntry is the JSON shape of one chunk in the prompt.
type contextEntry struct {
	ID        string             `json:"id"`
	Content   string             `json:"content"`
	Metadata  retrieval.Metadata `json:"metadata"`
	Frequency int                `json:"frequency"`
	Score     float32            `json:"score"`
}

// BuildPrompt renders the answering instructions followed by the chunks as
// JSON context data, in the order given.
func BuildPrompt(chunks []reranking.RankedChunk) (string, error) {
	entries := make([]contextEntry, len(chunks))
	for i, ch := range chunks {
		entries[i] = contextEntry{
			ID:        ch.ID,
			Content:   ch.Document.Content,
			Metadata:  ch.Document.Metadata,
			Frequency: ch.Frequency,
			Score:     ch.Score,
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding context data: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.Write(data)
	sb.WriteString("\n")
	return sb.String(), nil
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
