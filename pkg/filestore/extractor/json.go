// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"encoding/json"
	"strings"
)

type jsonStory struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// extractJSON accepts a single story object or an array of them. Any other
// valid JSON is indented and kept as one story.
func extractJSON(content []byte) ([]Document, error) {
	trimmed := bytes.TrimSpace(content)

	var many []jsonStory
	if err := json.Unmarshal(trimmed, &many); err == nil {
		docs := make([]Document, len(many))
		for i, s := range many {
			docs[i] = Document{Title: s.Title, Description: s.Description}
		}
		return docs, nil
	}

	var one jsonStory
	if err := json.Unmarshal(trimmed, &one); err == nil && one.Description != "" {
		return []Document{{Title: one.Title, Description: one.Description}}, nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		// Not JSON; treat as text.
		return extractText(content)
	}
	return []Document{{Description: buf.String()}}, nil
}

// extractJSONL reads one story object per line, skipping blank or
// malformed lines.
func extractJSONL(content []byte) ([]Document, error) {
	var docs []Document
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var s jsonStory
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			continue
		}
		docs = append(docs, Document{Title: s.Title, Description: s.Description})
	}
	return docs, nil
}
