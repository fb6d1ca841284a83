package memory

import (
	"math"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	k1 = 1.2
	b  = 0.75
)

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// postings is a per-column inverted index. Term postings are roaring
// bitmaps over row slots; term frequencies and token sequences are kept
// per slot for BM25 and phrase checks.
type postings struct {
	terms       map[string]*roaring.Bitmap
	tf          map[uint32]map[string]int
	tokens      map[uint32][]string
	totalLength int64
}

func newPostings() *postings {
	return &postings{
		terms:  make(map[string]*roaring.Bitmap),
		tf:     make(map[uint32]map[string]int),
		tokens: make(map[uint32][]string),
	}
}

func (p *postings) add(slot uint32, text string) {
	toks := tokenize(text)
	if len(toks) == 0 {
		return
	}
	freq := make(map[string]int, len(toks))
	for _, t := range toks {
		freq[t]++
	}
	for t := range freq {
		bm, ok := p.terms[t]
		if !ok {
			bm = roaring.New()
			p.terms[t] = bm
		}
		bm.Add(slot)
	}
	p.tf[slot] = freq
	p.tokens[slot] = toks
	p.totalLength += int64(len(toks))
}

func (p *postings) remove(slot uint32) {
	freq, ok := p.tf[slot]
	if !ok {
		return
	}
	for t := range freq {
		if bm := p.terms[t]; bm != nil {
			bm.Remove(slot)
			if bm.IsEmpty() {
				delete(p.terms, t)
			}
		}
	}
	p.totalLength -= int64(len(p.tokens[slot]))
	delete(p.tf, slot)
	delete(p.tokens, slot)
}

// docs returns the slots containing term.
func (p *postings) docs(term string) *roaring.Bitmap {
	if bm, ok := p.terms[term]; ok {
		return bm
	}
	return roaring.New()
}

// allOf returns slots holding every term.
func (p *postings) allOf(terms []string) *roaring.Bitmap {
	if len(terms) == 0 {
		return roaring.New()
	}
	out := p.docs(terms[0]).Clone()
	for _, t := range terms[1:] {
		out.And(p.docs(t))
	}
	return out
}

// anyOf returns slots holding at least one term.
func (p *postings) anyOf(terms []string) *roaring.Bitmap {
	bms := make([]*roaring.Bitmap, 0, len(terms))
	for _, t := range terms {
		bms = append(bms, p.docs(t))
	}
	return roaring.FastOr(bms...)
}

// phrase reports whether slot has terms as an adjacent run.
func (p *postings) phrase(slot uint32, terms []string) bool {
	toks := p.tokens[slot]
	if len(terms) == 0 || len(toks) < len(terms) {
		return false
	}
	for i := 0; i+len(terms) <= len(toks); i++ {
		match := true
		for j, t := range terms {
			if toks[i+j] != t {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// score is the BM25 relevance of slot for terms.
func (p *postings) score(slot uint32, terms []string) float64 {
	n := len(p.tf)
	if n == 0 {
		return 0
	}
	freq := p.tf[slot]
	if freq == nil {
		return 0
	}
	avgDL := float64(p.totalLength) / float64(n)
	docLen := float64(len(p.tokens[slot]))

	var s float64
	for _, t := range terms {
		tf := float64(freq[t])
		if tf == 0 {
			continue
		}
		df := float64(p.docs(t).GetCardinality())
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		s += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*(docLen/avgDL)))
	}
	return s
}
