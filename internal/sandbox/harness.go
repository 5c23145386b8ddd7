package sandbox

import (
	"fmt"
	"strings"
)

// harnessTemplate embeds the transformation body in a fixed script. The
// harness owns dataset loading and result serialization so the model never
// has to emit boilerplate or escape its own output. Exceptions raised by the
// body are caught here and serialized as an error summary with a zero exit;
// only interpreter-level failures reach the parent as a non-zero exit.
const harnessTemplate = `import sys
import json
import pandas as pd

try:
    df = pd.read_csv(sys.argv[1])
    df.columns = df.columns.str.strip()

%s

    print(json.dumps({"values": values, "summary": summary}))
except Exception as e:
    print(json.dumps({"values": None, "summary": {"error": str(e)}}))
`

// Unescape collapses literal escape sequences left behind when the model
// double-encodes code inside a JSON string value.
func Unescape(code string) string {
	if !strings.Contains(code, `\n`) && !strings.Contains(code, `\"`) && !strings.Contains(code, `\\`) {
		return strings.TrimSpace(code)
	}
	r := strings.NewReplacer(
		`\n`, "\n",
		`\t`, "\t",
		`\"`, `"`,
		`\'`, "'",
		`\\`, `\`,
	)
	return strings.TrimSpace(r.Replace(code))
}

// stripFences removes markdown code fences around the transformation body.
func stripFences(code string) string {
	code = strings.TrimSpace(code)
	if !strings.Contains(code, "```") {
		return code
	}
	for _, tag := range []string{"```python", "```py", "```"} {
		code = strings.ReplaceAll(code, tag, "")
	}
	return strings.TrimSpace(code)
}

// Wrap cleans the transformation body and embeds it in the harness. The body
// must assign the names values and summary.
func Wrap(code string) string {
	body := Unescape(stripFences(code))
	return fmt.Sprintf(harnessTemplate, indent(body, 4))
}

func indent(code string, spaces int) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}
