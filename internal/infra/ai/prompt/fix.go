package prompt

import (
	"fmt"
	"path"
	"strings"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

// SystemPrompt is the fixed system role for fix proposals.
const SystemPrompt = "You are a helpful assistant that can fix code issues."

var languages = map[string]string{
	".java":   "java",
	".kt":     "kotlin",
	".go":     "go",
	".py":     "python",
	".js":     "javascript",
	".ts":     "typescript",
	".cs":     "csharp",
	".c":      "c",
	".cpp":    "cpp",
	".rb":     "ruby",
	".php":    "php",
	".xml":    "xml",
	".yaml":   "yaml",
	".yml":    "yaml",
	".json":   "json",
	".gradle": "groovy",
}

// LanguageOf guesses the fence language tag from the file extension.
func LanguageOf(file string) string {
	return languages[strings.ToLower(path.Ext(file))]
}

// FixPrompt builds the user message for one attempt. Retries also carry the
// diff of the rejected candidate and the reason it was rejected.
func FixPrompt(req ai.FixRequest) string {
	lang := req.Language
	if lang == "" {
		lang = LanguageOf(req.File)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\n", req.Name)
	if req.Tags != "" {
		fmt.Fprintf(&b, "Tags: %s\n", req.Tags)
	}
	fmt.Fprintf(&b, "\nExplanation of the issue:\n%s\n\n", strings.TrimSpace(req.Explanation))

	fmt.Fprintf(&b, "Here is the full file code of %s:\n\n", req.File)
	writeFence(&b, lang, req.Content)

	fmt.Fprintf(&b, "\nThe problematic code is from line %d to %d:\n\n", req.StartLine, req.EndLine)
	writeFence(&b, lang, req.Snippet)

	if req.Attempt > 1 && (req.PriorDiff != "" || req.PriorFailure != "") {
		fmt.Fprintf(&b, "\nA previous attempt (%d) was rejected.\n", req.Attempt-1)
		if req.PriorDiff != "" {
			b.WriteString("It made these changes:\n\n")
			writeFence(&b, "diff", req.PriorDiff)
		}
		if req.PriorFailure != "" {
			b.WriteString("\nIt failed with:\n\n")
			writeFence(&b, "", req.PriorFailure)
		}
		b.WriteString("\nFirst explain in one or two sentences why the previous attempt failed. " +
			"Then start again from the full file above and write a fix that does not repeat that failure.\n")
	}

	b.WriteString(`
Instructions:

- Modify only the code necessary to fix the issue described in the explanation.
- Do not alter any other parts of the code, including comments, whitespace, or formatting.
- Provide the complete updated code of the file with the changes required, in a single fenced code block.
- Ensure that the code compiles and maintains the original functionality except for the fix.
`)
	return b.String()
}

func writeFence(b *strings.Builder, lang, body string) {
	b.WriteString("```" + lang + "\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("```\n")
}
