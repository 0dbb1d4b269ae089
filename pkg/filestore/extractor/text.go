// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"strings"
	"unicode/utf8"
)

// extractText treats content as plain text or Markdown. A leading
// "# Heading" line becomes the title.
func extractText(content []byte) ([]Document, error) {
	if !utf8.Valid(content) {
		return nil, ErrUnsupportedFormat
	}

	text := strings.TrimSpace(string(content))
	var title string
	if strings.HasPrefix(text, "# ") {
		first, rest, _ := strings.Cut(text, "\n")
		title = strings.TrimPrefix(first, "# ")
		text = rest
	}
	return []Document{{Title: title, Description: text}}, nil
}
