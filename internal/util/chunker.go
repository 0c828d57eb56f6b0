package util

import (
	"math"
	"strings"
)

// ChunkText splits text into rune windows of chunkSize where consecutive
// windows share overlap runes. Output is a pure function of its inputs.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	runes := []rune(text)
	step := chunkSize - overlap
	out := make([]string, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[i:end]))
		if part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// OverlapFor converts an overlap fraction into a rune count for chunkSize.
func OverlapFor(chunkSize int, fraction float64) int {
	if chunkSize <= 0 || fraction <= 0 || fraction >= 1 {
		return 0
	}
	return int(math.Round(float64(chunkSize) * fraction))
}
