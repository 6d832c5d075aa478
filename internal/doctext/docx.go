package doctext

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// maxDocumentXML bounds the decompressed size of word/document.xml.
const maxDocumentXML = 64 << 20

// DOCXText returns the paragraph text of a Word document, one paragraph per
// line. Table cells are separated by tabs.
func DOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "docx: open archive")
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", eris.New("docx: word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", eris.Wrap(err, "docx: open document.xml")
	}
	defer rc.Close() //nolint:errcheck

	return documentXMLText(io.LimitReader(rc, maxDocumentXML))
}

// documentXMLText walks WordprocessingML tokens: w:t carries text, w:tab and
// w:tc boundaries become tabs, w:br and w:p boundaries become newlines.
func documentXMLText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var b, line strings.Builder
	var inText, cellStarted bool
	flush := func() {
		if s := strings.TrimRight(line.String(), "\t "); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
		line.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "docx: read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteString("\t")
			case "br", "cr":
				flush()
			case "tc":
				if cellStarted {
					s := strings.TrimRight(line.String(), " ")
					line.Reset()
					line.WriteString(s + "\t")
				}
				cellStarted = true
			case "tr":
				cellStarted = false
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				// Paragraphs inside a table cell stay on the row's line.
				if !cellStarted {
					flush()
				} else {
					line.WriteString(" ")
				}
			case "tr":
				flush()
				cellStarted = false
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	flush()
	return b.String(), nil
}
