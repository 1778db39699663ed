package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
)

// Config controls passage splitting. Sizes are in whitespace tokens.
type Config struct {
	ChunkSize    int // target tokens per passage
	Overlap      int // tokens shared between consecutive passages
	MinChunkSize int // passages shorter than this merge into their predecessor
	HardCapChars int // input longer than this is rejected; 0 disables
}

// Passage is one retrieval unit with provenance offsets into the source text
type Passage struct {
	Ordinal     int
	Text        string
	CharStart   int
	CharEnd     int
	TokenCount  int
	ContentHash string
}

// Chunker splits document text deterministically: identical input and
// config always yield byte-identical passages.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	c := cfg
	if c.ChunkSize <= 0 {
		c.ChunkSize = 512
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		c.Overlap = c.ChunkSize / 4
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 32
	}
	return &Chunker{cfg: c}
}

// token is a whitespace-delimited run with its offsets in the source
type token struct {
	start, end int
	// boundary strength AFTER this token: 2 paragraph, 1 sentence end, 0 plain
	boundary int
}

// maxTokenLen caps a single unbroken run; longer runs are split at hard
// character boundaries so pathological inputs still chunk.
const maxTokenLen = 512

// Split produces ordered passages covering the input. Empty input yields no
// passages and no error.
func (c *Chunker) Split(text string) ([]Passage, error) {
	if c.cfg.HardCapChars > 0 && len(text) > c.cfg.HardCapChars {
		return nil, faults.New(faults.KindInvalidInput,
			"document text %d chars exceeds hard cap %d", len(text), c.cfg.HardCapChars)
	}
	toks := tokenize(text)
	if len(toks) == 0 {
		return nil, nil
	}

	type span struct{ lo, hi int } // token index range, hi exclusive
	var spans []span

	i := 0
	for {
		hi := i + c.cfg.ChunkSize
		if hi >= len(toks) {
			spans = append(spans, span{i, len(toks)})
			break
		}
		// prefer a natural boundary near the target: scan back through the
		// second half of the window for a paragraph break, then a sentence
		// end; the half-window floor keeps chunks near the target size
		cut := hi
		lowest := i + c.cfg.ChunkSize/2
		if m := i + c.cfg.MinChunkSize; m > lowest {
			lowest = m
		}
		best := -1
		for j := hi - 1; j >= lowest; j-- {
			if toks[j].boundary == 2 {
				best = j
				break
			}
			if toks[j].boundary == 1 && best < 0 {
				best = j
			}
		}
		if best >= 0 {
			cut = best + 1
		}
		spans = append(spans, span{i, cut})

		next := cut - c.cfg.Overlap
		if next <= i {
			next = i + 1
		}
		i = next
	}

	// merge a trailing runt into its predecessor
	if n := len(spans); n > 1 && spans[n-1].hi-spans[n-1].lo < c.cfg.MinChunkSize {
		spans[n-2].hi = spans[n-1].hi
		spans = spans[:n-1]
	}

	out := make([]Passage, 0, len(spans))
	for ord, s := range spans {
		start := toks[s.lo].start
		end := toks[s.hi-1].end
		body := text[start:end]
		sum := sha256.Sum256([]byte(body))
		out = append(out, Passage{
			Ordinal:     ord,
			Text:        body,
			CharStart:   start,
			CharEnd:     end,
			TokenCount:  s.hi - s.lo,
			ContentHash: hex.EncodeToString(sum[:16]),
		})
	}

	ometrics.ChunksPerDocument.Observe(float64(len(out)))
	return out, nil
}

func tokenize(text string) []token {
	var toks []token
	n := len(text)
	i := 0
	for i < n {
		// skip whitespace, remembering whether it contains a paragraph break
		wsStart := i
		for i < n && isSpace(text[i]) {
			i++
		}
		if i > wsStart && len(toks) > 0 && strings.Count(text[wsStart:i], "\n") >= 2 {
			toks[len(toks)-1].boundary = 2
		}
		if i >= n {
			break
		}
		runStart := i
		for i < n && !isSpace(text[i]) {
			i++
		}
		// hard-split unbroken runs so no token exceeds maxTokenLen
		for s := runStart; s < i; s += maxTokenLen {
			e := s + maxTokenLen
			if e > i {
				e = i
			}
			tk := token{start: s, end: e}
			if endsSentence(text[s:e]) {
				tk.boundary = 1
			}
			toks = append(toks, tk)
		}
	}
	return toks
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func endsSentence(tok string) bool {
	if tok == "" {
		return false
	}
	// allow trailing quotes and closing brackets after the terminator
	i := len(tok) - 1
	for i >= 0 {
		switch tok[i] {
		case '"', '\'', ')', ']', '}':
			i--
			continue
		}
		break
	}
	if i < 0 {
		return false
	}
	switch tok[i] {
	case '.', '!', '?':
		return true
	}
	return false
}
