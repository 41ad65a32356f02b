package gladia

import "strings"

// FormatSubtitles reflows SRT-style blocks so that each cue's text collapses
// onto one line (index, timing, text).
func FormatSubtitles(subtitles string) string {
	blocks := strings.Split(subtitles, "\n\n")
	for i, block := range blocks {
		lines := strings.Split(block, "\n")
		if len(lines) >= 3 {
			blocks[i] = lines[0] + "\n" + lines[1] + "\n" + strings.Join(lines[2:], " ")
		}
	}
	return strings.Join(blocks, "\n\n")
}
