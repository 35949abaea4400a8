package transcribe

import (
	"os"
	"regexp"
	"strings"
)

// hallucinationPatterns match lines speech-to-text models invent on silence
// or music, most infamously closing-credit boilerplate.
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)thank you for watching`),
	regexp.MustCompile(`(?i)please subscribe`),
	regexp.MustCompile(`(?i)like and subscribe`),
	regexp.MustCompile(`(?i)ご視聴ありがとうございました`),
}

// cleanTranscript scrubs hallucinated lines and collapses consecutive
// duplicates in place. Returns the number of lines removed.
func cleanTranscript(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	lines := strings.Split(string(content), "\n")
	kept := lines[:0]
	removed := 0

scan:
	for _, line := range lines {
		for _, pattern := range hallucinationPatterns {
			if pattern.MatchString(line) {
				removed++
				continue scan
			}
		}
		if len(kept) > 0 && kept[len(kept)-1] == line && strings.TrimSpace(line) != "" {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if removed == 0 {
		return 0, nil
	}
	cleaned := strings.Join(kept, "\n")
	if err := os.WriteFile(path, []byte(cleaned), 0o644); err != nil {
		return removed, err
	}
	return removed, nil
}
