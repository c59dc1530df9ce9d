// Package scoring implements the text metrics used to grade a voice QA run:
// character/word error rates between a reference and a noisy transcript, and
// a keyword-based correctness score for agent answers.
//
// Everything here is pure and deterministic so it can be tested in isolation.
package scoring

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/jhlin/voiceqa/internal/textutil"
)

// EmptyReferenceErrorRate is returned by CER/WER when the reference is empty
// but the hypothesis is not. The rate cannot be normalized by a zero-length
// reference, so any recognized text counts as 100% error.
const EmptyReferenceErrorRate = 1.0

var editDistanceOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// CER calculates the character error rate between a reference string and a
// hypothesis: unit-cost edit distance over runes divided by the number of
// runes in the reference.
func CER(reference, hypothesis string) float64 {
	refRunes := []rune(reference)
	hypRunes := []rune(hypothesis)

	if len(refRunes) == 0 {
		if len(hypRunes) == 0 {
			return 0
		}
		return EmptyReferenceErrorRate
	}

	distance := levenshtein.DistanceForStrings(refRunes, hypRunes, editDistanceOptions)
	return float64(distance) / float64(len(refRunes))
}

// WER calculates the word error rate between a reference string and a
// hypothesis, tokenized on whitespace.
func WER(reference, hypothesis string) float64 {
	refWords := strings.Fields(reference)
	hypWords := strings.Fields(hypothesis)

	if len(refWords) == 0 {
		if len(hypWords) == 0 {
			return 0
		}
		return EmptyReferenceErrorRate
	}

	refRunes, hypRunes := internTokens(refWords, hypWords)
	distance := levenshtein.DistanceForStrings(refRunes, hypRunes, editDistanceOptions)
	return float64(distance) / float64(len(refWords))
}

// SplitKeywords parses a comma-separated reference answer into the list of
// required keywords, dropping empty entries.
func SplitKeywords(s string) []string {
	var keywords []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keywords = append(keywords, part)
		}
	}
	return keywords
}

// KeywordScore grades an agent answer against a list of required keywords:
// 100 times the fraction of keywords contained in the normalized answer.
// It also returns the keywords that were missing.
//
// With an empty keyword list the score is undefined and nil is returned:
// the answer needs manual review, which is not the same as scoring zero.
func KeywordScore(answer string, keywords []string) (*float64, []string) {
	if len(keywords) == 0 {
		return nil, nil
	}

	normalized := textutil.Normalize(answer)

	matched := 0
	var missing []string
	for _, keyword := range keywords {
		if strings.Contains(normalized, textutil.Normalize(keyword)) {
			matched++
		} else {
			missing = append(missing, keyword)
		}
	}

	score := 100 * float64(matched) / float64(len(keywords))
	return &score, missing
}

// internTokens maps each distinct token to its own private-use rune so word
// sequences run through the same rune-based edit distance as characters do.
// Equal tokens share a rune, distinct tokens never collide.
func internTokens(ref, hyp []string) ([]rune, []rune) {
	ids := make(map[string]rune, len(ref)+len(hyp))
	next := rune(0xE000) // Unicode private use area

	conv := func(words []string) []rune {
		out := make([]rune, len(words))
		for i, w := range words {
			r, ok := ids[w]
			if !ok {
				r = next
				next++
				ids[w] = r
			}
			out[i] = r
		}
		return out
	}
	return conv(ref), conv(hyp)
}
