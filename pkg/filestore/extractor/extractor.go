// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package extractor turns uploaded documents into user stories.
package extractor

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyDocument is returned when a document yields no story text.
	ErrEmptyDocument = errors.New("document contains no story text")

	// ErrUnsupportedFormat is returned for content that is not text.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Document is one user story parsed from an upload.
type Document struct {
	Title       string
	Description string
}

// ExtractStories parses content according to the file extension. Tabular
// and JSON documents may carry several stories (one per row or object with
// "title" and "description" fields); every other format yields a single
// story. Stories without a title take the filename stem.
func ExtractStories(content []byte, filename string) ([]Document, error) {
	var (
		docs []Document
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		docs, err = extractPDF(content)
	case ".html", ".htm":
		docs, err = extractHTML(content)
	case ".csv":
		docs, err = extractCSV(content)
	case ".json":
		docs, err = extractJSON(content)
	case ".jsonl":
		docs, err = extractJSONL(content)
	default:
		docs, err = extractText(content)
	}
	if err != nil {
		return nil, err
	}

	stem := TitleFromFilename(filename)
	out := docs[:0]
	for _, d := range docs {
		d.Title = normalizeSpace(d.Title)
		d.Description = strings.TrimSpace(d.Description)
		if d.Description == "" {
			continue
		}
		if d.Title == "" {
			d.Title = stem
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, ErrEmptyDocument
	}
	return out, nil
}

// TitleFromFilename returns the base name without its extension.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
