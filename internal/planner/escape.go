package planner

import "strings"

var (
	// drawtext option value: backslash, quote and the option separator
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	// filtergraph level: everything the graph parser treats as syntax
	graphEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `,`, `\,`, `;`, `\;`, `[`, `\[`, `]`, `\]`)
)

// EscapeDrawtext escapes text for use as drawtext's text= value inside a
// -vf filtergraph string
func EscapeDrawtext(text string) string {
	return graphEscaper.Replace(optionEscaper.Replace(text))
}
