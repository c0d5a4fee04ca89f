package usecase

import (
	"fmt"
	"strings"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

var modeInstructions = map[domain.AnswerMode]string{
	domain.ModeQuote: `Answer by quoting the user's own notes. Cite passages verbatim with their source number.
Do not add claims the passages do not support.`,
	domain.ModeSynthesis: `The notes contain no direct answer. Synthesize the most plausible reading of the
available material, state clearly that it is an inference, and name what is missing.`,
	domain.ModeHybrid: `Combine direct quotes for the defined parts with clearly marked inference for the rest.
Separate what the notes say from what you conclude.`,
	domain.ModeExplorer: `This is an open-ended exploration. Surface connections and open questions across the
notes rather than a single definitive answer.`,
}

func buildAnswerPrompt(query domain.Query, mode domain.AnswerMode, chunks []domain.Chunk, hints []string) string {
	var b strings.Builder
	b.WriteString("Answer the user's question only from their personal notes below.\n")
	b.WriteString(modeInstructions[mode])
	b.WriteString("\n")

	if len(hints) > 0 {
		b.WriteString("\nA reviewer rejected the previous draft. Corrective instructions:\n")
		for _, hint := range hints {
			b.WriteString("- " + hint + "\n")
		}
	}

	b.WriteString("\nQuestion:\n")
	b.WriteString(query.Raw)
	b.WriteString("\n\nNotes:\n")
	b.WriteString(renderChunks(chunks))
	return b.String()
}

func buildJudgePrompt(query domain.Query, mode domain.AnswerMode, answer string, chunks []domain.Chunk) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`You are a strict reviewer. Judge whether the answer below is grounded in the
provided notes and appropriate for %s mode.
Return strict JSON with keys:
verdict ("PASS", "REGENERATE" or "DECLINE"), score (number 0-10),
criteria (object of criterion name to score 0-10), retry_hints (array of strings).
No markdown, no extra keys.
`, mode))

	b.WriteString("\nQuestion:\n")
	b.WriteString(query.Raw)
	b.WriteString("\n\nAnswer:\n")
	b.WriteString(answer)
	b.WriteString("\n\nNotes:\n")
	b.WriteString(renderChunks(chunks))
	return b.String()
}

func renderChunks(chunks []domain.Chunk) string {
	if len(chunks) == 0 {
		return "(no notes matched)\n"
	}
	var b strings.Builder
	for idx, chunk := range chunks {
		b.WriteString(fmt.Sprintf("[%d] title=%s type=%s evidence=%s\n%s\n",
			idx+1, chunk.Title, chunk.SourceType, chunk.Level, chunk.Snippet))
		if chunk.Annotation != "" {
			b.WriteString("note to self: " + chunk.Annotation + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
