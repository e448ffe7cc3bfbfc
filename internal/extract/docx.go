package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// docxText pulls paragraph text out of word/document.xml. DOCX is a zip of
// OOXML parts; only w:t runs carry visible text, w:p marks paragraphs.
func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = zr.Close()
	}()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		text, err := ooxmlText(rc)
		_ = rc.Close()
		return text, err
	}
	return "", errors.New("docx: missing word/document.xml")
}

func ooxmlText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
