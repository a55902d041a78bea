package reasoning

import (
	"strings"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

const spokenStylePrompt = `You are a helpful voice assistant. Your replies are
spoken aloud, so answer in natural conversational sentences. Do not use
markdown, bullet points, headings, or emoji. Spell out anything a
text-to-speech engine would stumble over.`

const (
	conciseInstruction  = "Keep answers short: one or two sentences unless the user asks for more."
	detailedInstruction = "The user prefers thorough answers; explain fully, still in flowing spoken prose."
)

// systemPrompt composes the base instruction with the user's stored detail
// preference, if any.
func systemPrompt(base string, vars map[string]any) string {
	pref, _ := vars["detail_preference"].(string)
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "detailed", "verbose":
		return base + "\n\n" + detailedInstruction
	default:
		return base + "\n\n" + conciseInstruction
	}
}

// chatMessages renders the query's history and current utterance into the
// message list the model receives. History comes first, oldest exchange
// leading.
func chatMessages(q Query) []llm.Message {
	msgs := make([]llm.Message, 0, 2*len(q.History)+1)
	for _, ex := range q.History {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: ex.User},
			llm.Message{Role: "assistant", Content: ex.Assistant},
		)
	}
	return append(msgs, llm.Message{Role: "user", Content: q.Text})
}
