// Package chunker splits source text into contiguous line-bounded chunks.
package chunker

import (
	"iter"
	"sort"
	"strings"
)

// Chunk is a contiguous run of lines from a source file.
type Chunk struct {
	Index     int    `json:"index"`
	StartLine int    `json:"start_line"` // 1-based, inclusive
	EndLine   int    `json:"end_line"`   // 1-based, inclusive
	Text      string `json:"-"`
}

// LineCount returns the number of lines in the chunk
func (c Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// Lines splits code on newlines. A single trailing newline terminates the last
// line instead of starting an empty one. Empty input is one empty line.
func Lines(code string) []string {
	lines := strings.Split(code, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// CountLines returns the number of lines in code, 0 for empty input
func CountLines(code string) int {
	if code == "" {
		return 0
	}
	return len(Lines(code))
}

// Split yields chunks of at most maxLines lines in file order. Chunk i starts
// at line i*maxLines+1. Empty input yields a single empty chunk.
//
// The sequence is lazy and can be ranged over any number of times.
func Split(code string, maxLines int) iter.Seq[Chunk] {
	return SplitAligned(code, maxLines, nil)
}

// SplitAligned is Split with preferred cut points. boundaries holds 1-based
// line numbers where a top-level declaration starts; a chunk that would end
// mid-file is shortened to end right before the last boundary inside its
// window. Chunks never exceed maxLines lines and still cover every line once.
func SplitAligned(code string, maxLines int, boundaries []int) iter.Seq[Chunk] {
	if maxLines < 1 {
		maxLines = 1
	}

	return func(yield func(Chunk) bool) {
		lines := Lines(code)
		cuts := cutIndexes(boundaries, len(lines))

		index := 0
		for start := 0; start < len(lines); {
			end := start + maxLines
			if end >= len(lines) {
				end = len(lines)
			} else {
				end = alignEnd(cuts, start, end)
			}

			chunk := Chunk{
				Index:     index,
				StartLine: start + 1,
				EndLine:   end,
				Text:      strings.Join(lines[start:end], "\n"),
			}
			if !yield(chunk) {
				return
			}

			index++
			start = end
		}
	}
}

// cutIndexes converts 1-based boundary lines into sorted, unique 0-based line
// indexes strictly inside the file. Line 1 is never a useful cut.
func cutIndexes(boundaries []int, numLines int) []int {
	seen := make(map[int]bool, len(boundaries))
	var cuts []int
	for _, line := range boundaries {
		idx := line - 1
		if idx <= 0 || idx >= numLines || seen[idx] {
			continue
		}
		seen[idx] = true
		cuts = append(cuts, idx)
	}
	sort.Ints(cuts)
	return cuts
}

// alignEnd returns the largest cut in (start, end], or end when there is none
func alignEnd(cuts []int, start, end int) int {
	// first cut greater than end
	i := sort.SearchInts(cuts, end+1)
	if i > 0 && cuts[i-1] > start {
		return cuts[i-1]
	}
	return end
}
