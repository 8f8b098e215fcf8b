package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "print(1)", want: "print(1)"},
		{name: "surrounding whitespace", in: "\n\t print(1) \n\n", want: "print(1)"},
		{name: "python fence", in: "```python\nprint(1)\n```", want: "print(1)"},
		{name: "bare fence", in: "```\nprint(1)\n```", want: "print(1)"},
		{name: "other tag", in: "```py3\nprint(1)\n```", want: "print(1)"},
		{name: "tag with trailing spaces", in: "```python  \r\nprint(1)\n```", want: "print(1)"},
		{name: "fence with outer whitespace", in: "  \n```python\n  print(1)\n```\n ", want: "print(1)"},
		{name: "leading fence only", in: "```python\nprint(1)", want: "print(1)"},
		{name: "trailing fence only", in: "print(1)\n```", want: "print(1)"},
		{name: "single line fence", in: "```print(1)```", want: "print(1)"},
		{name: "multi line body", in: "```python\nimport re\n\nprint(re.escape('a'))\n```", want: "import re\n\nprint(re.escape('a'))"},
		{name: "only fences", in: "```python\n```", want: ""},
		{name: "empty", in: "", want: ""},
		{name: "tag and code on fence line", in: "```python print(1)\n```", want: "print(1)"},
		{name: "tag and code on fence line with body", in: "```python import os\nprint(os.sep)\n```", want: "import os\nprint(os.sep)"},
		{name: "tag and code without newline", in: "```py3 print(1)```", want: "print(1)"},
		{name: "code that looks like a word kept", in: "```x = 1\nprint(x)\n```", want: "x = 1\nprint(x)"},
		{name: "nested fence kept", in: "```python\n```python\nprint(1)\n```\n```", want: "```python\nprint(1)\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sandbox.Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"print(1)",
		"  print(1)\n",
		"```python\nprint(1)\n```",
		"```\nfor i in range(3):\n    print(i)\n```\n",
		"```js\nconsole.log(1)\n```",
		"print('```')",
		"```python print(1)\n```",
		"",
	}

	for _, in := range inputs {
		once := sandbox.Normalize(in)
		assert.Equal(t, once, sandbox.Normalize(once), "input %q", in)
	}
}
