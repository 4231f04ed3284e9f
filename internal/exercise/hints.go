package exercise

import (
	"regexp"
	"strings"
)

var hintLine = regexp.MustCompile(`(?i)(?:hint|tip|help):\s*(.+)`)

// keywordHints are added when the instructions mention the keyword
var keywordHints = []struct {
	keyword string
	hint    string
}{
	{"function", "Remember to use the def keyword to define a function"},
	{"return", "Don't forget to return the result from your function"},
	{"input", "Use input() to get user input, but remember it returns a string"},
}

// ExtractHints collects "Hint:", "Tip:" and "Help:" lines from the
// instructions, in order, followed by generic hints for keywords the
// instructions mention. The result is never nil.
func ExtractHints(instructions string) []string {
	hints := []string{}
	for _, m := range hintLine.FindAllStringSubmatch(instructions, -1) {
		if h := strings.TrimSpace(m[1]); h != "" {
			hints = append(hints, h)
		}
	}

	content := strings.ToLower(instructions)
	for _, kh := range keywordHints {
		if strings.Contains(content, kh.keyword) {
			hints = append(hints, kh.hint)
		}
	}
	return hints
}
