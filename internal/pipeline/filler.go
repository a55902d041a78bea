package pipeline

import (
	"hash/fnv"
	"strings"
)

// documentFiller is the fixed filler spoken while a document lookup runs.
const documentFiller = "Let me check the document for you."

// greetingWords are short social tokens. A transcript of at most four words
// containing one of them gets no filler at all: the reply will be fast and a
// filler would feel patronising.
var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "howdy": true, "sup": true,
	"yo": true, "thanks": true, "thank": true, "bye": true, "goodbye": true,
	"ok": true, "okay": true, "cool": true,
}

// fillerVariants maps the first word of a transcript to candidate fillers.
var fillerVariants = map[string][]string{
	"what":  {"Let me think.", "Hmm, let me see."},
	"who":   {"Let me think.", "Hmm, let me see."},
	"which": {"Let me think.", "Hmm, let me see."},
	"where": {"Let me think.", "Hmm, let me see."},
	"when":  {"Let me think.", "Hmm, let me see."},

	"how": {"Let me figure that out."},
	"why": {"Good question, let me think."},

	"can":    {"Sure thing.", "Of course."},
	"could":  {"Sure thing.", "Of course."},
	"would":  {"Sure thing.", "Of course."},
	"please": {"Sure thing.", "Of course."},

	"explain":   {"Sure, let me explain."},
	"describe":  {"Sure, let me explain."},
	"summarize": {"Sure, let me explain."},
	"list":      {"Sure, let me explain."},
	"give":      {"Sure, let me explain."},
}

// defaultFillers are used when the first word matches no key.
var defaultFillers = []string{"One moment.", "Let me check."}

// fillerFor returns the filler sentence to speak while the reply is prepared,
// or "" when the transcript is a short greeting and no filler should play.
// The pick within a variant list is a deterministic hash of the transcript,
// so repeated identical prompts hear the same filler.
func fillerFor(transcript string, documentMode bool) string {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return ""
	}
	if len(words) <= 4 {
		for _, w := range words {
			if greetingWords[normalizeWord(w)] {
				return ""
			}
		}
	}
	if documentMode {
		return documentFiller
	}

	variants, ok := fillerVariants[normalizeWord(words[0])]
	if !ok {
		variants = defaultFillers
	}
	h := fnv.New32a()
	h.Write([]byte(transcript))
	return variants[int(h.Sum32())%len(variants)]
}

// normalizeWord lowercases and strips trailing punctuation for table lookups.
func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,!?")
}
