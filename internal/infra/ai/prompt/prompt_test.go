package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
)

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
	}{
		{"java fence", "Sure.\n```java\nclass A {}\n```\n", "class A {}\n"},
		{"bare fence", "```\nx\ny\n```", "x\ny\n"},
		{"first of two", "```java\nfirst\n```\ntext\n```java\nsecond\n```", "first\n"},
		{"indented fence", "  ```java\n  class A {}\n  ```\n", "  class A {}\n"},
		{"inline", "```java class A {}```", "class A {}\n"},
		{"keeps inner blank lines", "```java\na\n\nb\n```", "a\n\nb\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractCode(tc.response)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractCode_NoBlock(t *testing.T) {
	for _, resp := range []string{"", "plain text", "```java\nnever closed"} {
		_, err := ExtractCode(resp)
		assert.ErrorIs(t, err, ai.ErrNoCodeBlock, resp)
	}
}

func TestFixPrompt_FirstAttempt(t *testing.T) {
	p := FixPrompt(ai.FixRequest{
		Name:        "SQL_INJECTION",
		Explanation: "Query built from user input",
		Tags:        "CWE-89",
		File:        "src/Foo.java",
		Content:     "class Foo {\n}\n",
		StartLine:   1,
		EndLine:     1,
		Snippet:     "class Foo {\n",
		Attempt:     1,
	})

	assert.Contains(t, p, "Explanation of the issue:\nQuery built from user input")
	assert.Contains(t, p, "```java\nclass Foo {\n}\n```")
	assert.Contains(t, p, "from line 1 to 1")
	assert.Contains(t, p, "Tags: CWE-89")
	assert.NotContains(t, p, "previous attempt")
}

func TestFixPrompt_RetryCarriesPriorDiff(t *testing.T) {
	p := FixPrompt(ai.FixRequest{
		File:         "src/Foo.java",
		Content:      "x\n",
		Attempt:      2,
		PriorDiff:    "--- src/Foo.java\n+++ src/Foo.java\n@@ -1 +1 @@\n-x\n+y\n",
		PriorFailure: "[ERROR] cannot find symbol",
	})

	assert.Contains(t, p, "A previous attempt (1) was rejected.")
	assert.Contains(t, p, "```diff\n--- src/Foo.java")
	assert.Contains(t, p, "[ERROR] cannot find symbol")
	assert.Contains(t, p, "First explain in one or two sentences why the previous attempt failed.")

	first := FixPrompt(ai.FixRequest{File: "src/Foo.java", Content: "x\n", Attempt: 1})
	assert.NotContains(t, first, "previous attempt")
}

func TestLanguageOf(t *testing.T) {
	assert.Equal(t, "java", LanguageOf("src/Foo.JAVA"))
	assert.Equal(t, "", LanguageOf("Makefile"))
}
