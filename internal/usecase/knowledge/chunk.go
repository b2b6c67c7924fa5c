package knowledge

import "strings"

// Chunk splits a markdown document into overlapping word windows.
//
// Heading lines (starting with '#') and blank lines are dropped, the rest is
// flattened into one word stream, and windows of size words are taken every
// size-overlap words. The last window is discarded when it has fewer than
// minWords words, even if it is the only one.
func Chunk(text string, size, overlap, minWords int) []string {
	if size <= 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	words := documentWords(text)
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		last := end == len(words)
		if last && end-start < minWords {
			break
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if last {
			break
		}
	}
	return chunks
}

func documentWords(text string) []string {
	var words []string
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
