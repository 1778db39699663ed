package answer

import (
	"regexp"
	"strings"
)

var (
	spaceRe        = regexp.MustCompile(`[ \t]+`)
	blankRe        = regexp.MustCompile(`\n{3,}`)
	fmtSentenceRe  = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
	briefSentences = 3
)

// postProcess strips banned phrases and collapses runaway whitespace
// before the response format is applied.
func postProcess(text string, bannedPhrases []string) string {
	for _, p := range bannedPhrases {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "")
	}
	text = spaceRe.ReplaceAllString(text, " ")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// applyFormat renders the selected response format; it only reshapes
// text, never changes its content.
func applyFormat(text, format string) string {
	switch format {
	case FormatBrief:
		sents := splitSentences(text)
		if len(sents) > briefSentences {
			sents = sents[:briefSentences]
		}
		return strings.Join(sents, " ")
	case FormatBulleted:
		sents := splitSentences(text)
		if len(sents) <= 1 {
			return text
		}
		var b strings.Builder
		for _, s := range sents {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return text
	}
}

func splitSentences(text string) []string {
	flat := strings.Join(strings.Fields(text), " ")
	var out []string
	for _, s := range fmtSentenceRe.FindAllString(flat, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
