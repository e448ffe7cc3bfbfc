package extract

import (
	"archive/zip"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// epubText concatenates the text of every XHTML content document in the
// archive, in archive path order. Good enough for retrieval; spine order
// from content.opf is not worth the parse.
func epubText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = zr.Close()
	}()

	var docs []*zip.File
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") {
			docs = append(docs, f)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })

	var b strings.Builder
	for _, f := range docs {
		rc, err := f.Open()
		if err != nil {
			continue
		}
		node, err := html.Parse(rc)
		_ = rc.Close()
		if err != nil {
			continue
		}
		collectText(node, &b)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
		return
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style":
			return
		case "p", "div", "h1", "h2", "h3", "h4", "li", "br":
			b.WriteString("\n\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
