package checks

import "strings"

// BuildFixPrompt renders the single aggregated request sent to the assistant
// after a failed attempt. Passing results are omitted.
func BuildFixPrompt(results []Result) string {
	var commands, outputs []string
	for _, r := range Failed(results) {
		commands = append(commands, "- `"+r.Command+"`")
		outputs = append(outputs, r.StepName+":\n"+diagnostic(r))
	}

	var b strings.Builder
	b.WriteString("The following checks failed:\n")
	b.WriteString(strings.Join(commands, "\n"))
	b.WriteString("\n\nError outputs:\n")
	b.WriteString(strings.Join(outputs, "\n"))
	b.WriteString("\n\nPlease run these commands and fix all found issues.")
	return b.String()
}

// diagnostic prefers the error text, then stdout.
func diagnostic(r Result) string {
	if s := r.ErrorText(); s != "" {
		return s
	}
	if r.Output != "" {
		return r.Output
	}
	return "No output"
}
