// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// extractHTML takes the story title from <title> (or the first <h1>) and
// the description from the remaining visible text.
func extractHTML(content []byte) ([]Document, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return extractText(content)
	}

	w := &htmlWalker{}
	w.walk(doc)

	title := w.title
	if title == "" {
		title = w.heading
	}
	return []Document{{Title: title, Description: strings.Join(w.text, " ")}}, nil
}

type htmlWalker struct {
	title   string
	heading string
	text    []string
}

func (w *htmlWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "title":
			if w.title == "" {
				w.title = textOf(n)
			}
			return
		case "h1":
			if w.heading == "" {
				w.heading = textOf(n)
				return
			}
		}
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.text = append(w.text, text)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func textOf(n *html.Node) string {
	var parts []string
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(parts, " ")
}
