// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// extractCSV reads one story per row when the header names a description
// column ("description", "story" or "user_story") and optionally a "title"
// column. Without such a header the whole table becomes one story with
// tab-separated cells.
func extractCSV(content []byte) ([]Document, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable field counts

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extractText(content)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDocument
	}

	titleCol, descCol := -1, -1
	for i, h := range records[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "title":
			titleCol = i
		case "description", "story", "user_story":
			descCol = i
		}
	}

	if descCol < 0 {
		lines := make([]string, len(records))
		for i, r := range records {
			lines[i] = strings.Join(r, "\t")
		}
		return []Document{{Description: strings.Join(lines, "\n")}}, nil
	}

	docs := make([]Document, 0, len(records)-1)
	for _, r := range records[1:] {
		var d Document
		if descCol < len(r) {
			d.Description = r[descCol]
		}
		if titleCol >= 0 && titleCol < len(r) {
			d.Title = r[titleCol]
		}
		docs = append(docs, d)
	}
	return docs, nil
}
