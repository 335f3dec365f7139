package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order; the first one present in the text is used,
// and pieces still too long are split again with the remaining ones.
var separators = []string{"\n\n", "\n", " ", ""}

// Split breaks text into chunks of at most size characters, preferring
// paragraph, then line, then word boundaries. Consecutive chunks share up to
// overlap characters.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	for _, c := range splitRecursive(text, separators, size, overlap) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func length(s string) int { return utf8.RuneCountInString(s) }

func splitRecursive(text string, seps []string, size, overlap int) []string {
	sep, rest := "", []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, sep)
	}

	var chunks, small []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if length(p) <= size {
			small = append(small, p)
			continue
		}
		chunks = append(chunks, merge(small, sep, size, overlap)...)
		small = nil
		if len(rest) == 0 {
			chunks = append(chunks, p)
		} else {
			chunks = append(chunks, splitRecursive(p, rest, size, overlap)...)
		}
	}
	return append(chunks, merge(small, sep, size, overlap)...)
}

// merge joins pieces with sep into chunks no longer than size, carrying the
// trailing pieces of each chunk (up to overlap characters) into the next.
func merge(pieces []string, sep string, size, overlap int) []string {
	var out, cur []string
	total := 0
	sepLen := length(sep)

	for _, p := range pieces {
		n := length(p)
		joined := total + n
		if len(cur) > 0 {
			joined += sepLen
		}
		if joined > size && len(cur) > 0 {
			out = append(out, strings.Join(cur, sep))
			for len(cur) > 0 && (total > overlap || total+sepLen+n > size) {
				total -= length(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
		}
		if len(cur) > 0 {
			total += sepLen
		}
		cur = append(cur, p)
		total += n
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, sep))
	}
	return out
}
