// Package extract pulls the structured response object out of raw model text.
// Model output routinely wraps the JSON in markdown fences, prose, or example
// code containing braces of its own, so a "first { to last }" heuristic is not
// safe. The scanner here tracks brace depth and string state to find the exact
// object boundary.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnterminatedObject means no balanced {...} object was found in the text.
	ErrUnterminatedObject = errors.New("no terminated JSON object in response")

	// ErrMalformedStructure means a balanced object was found but did not decode.
	ErrMalformedStructure = errors.New("malformed JSON structure in response")
)

var jsonFenceRe = regexp.MustCompile("(?is)```json\\s*([\\s\\S]*?)\\s*```")
var fenceOpenRe = regexp.MustCompile("```\\w*\\s*")

// Object extracts the first complete JSON object from raw model text and
// returns it as raw JSON. The object is validated by decoding into a throwaway
// map; callers decode the returned bytes into their own envelope type.
func Object(text string) (json.RawMessage, error) {
	bounded, err := boundObject(text)
	if err != nil {
		return nil, err
	}

	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(bounded), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStructure, err)
	}
	return json.RawMessage(bounded), nil
}

// boundObject strips markdown fences and returns the substring spanning the
// first balanced top-level object.
func boundObject(text string) (string, error) {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "```") {
		// Prefer an explicitly tagged JSON block.
		if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(m[1])
		} else {
			text = fenceOpenRe.ReplaceAllString(text, "")
			text = strings.ReplaceAll(text, "```", "")
		}
	}

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", ErrUnterminatedObject
	}

	depth := 0
	inString := false
	end := -1

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			if c == '\\' && i+1 < len(text) {
				// A backslash consumes the next byte, so an escaped quote
				// never flips the string flag.
				i++
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}

	if end == -1 {
		return "", ErrUnterminatedObject
	}
	return text[start : end+1], nil
}
