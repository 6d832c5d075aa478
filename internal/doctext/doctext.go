// Package doctext renders attachment bytes as plain text for extraction.
package doctext

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/ocr"
)

// Format is a text rendering strategy.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatXLSX    Format = "xlsx"
	FormatDOCX    Format = "docx"
	FormatHTML    Format = "html"
	FormatCSV     Format = "csv"
	FormatText    Format = "text"
	FormatUnknown Format = ""
)

var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".xlsx": FormatXLSX,
	".xlsm": FormatXLSX,
	".docx": FormatDOCX,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".csv":  FormatCSV,
	".txt":  FormatText,
	".text": FormatText,
	".md":   FormatText,
	".json": FormatText,
	".xml":  FormatText,
}

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXLSX,
	"application/vnd.ms-excel.sheet.macroenabled.12":                          FormatXLSX,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"text/html":        FormatHTML,
	"text/csv":         FormatCSV,
	"text/plain":       FormatText,
	"text/markdown":    FormatText,
	"application/json": FormatText,
	"application/xml":  FormatText,
	"text/xml":         FormatText,
}

// Detect picks a format from the file extension, then the declared content
// type, then the content itself.
func Detect(filename, contentType string, data []byte) Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	if f := formatForMIME(contentType); f != FormatUnknown {
		return f
	}
	return formatForMIME(mimetype.Detect(data).String())
}

func formatForMIME(ct string) Format {
	if ct == "" {
		return FormatUnknown
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(ct))
	}
	return mimeFormats[mt]
}

// Parser renders attachments of every supported format.
type Parser struct {
	ocr  ocr.Extractor
	html *HTMLConverter
}

// New creates a Parser. PDFs go through the given OCR extractor.
func New(extractor ocr.Extractor) *Parser {
	return &Parser{ocr: extractor, html: NewHTMLConverter()}
}

// Parse returns the text of one attachment. Failures never propagate: the
// returned text is a bracketed placeholder naming the file and the cause.
func (p *Parser) Parse(ctx context.Context, filename, contentType string, data []byte) string {
	text, err := p.parse(ctx, filename, contentType, data)
	if err != nil {
		zap.L().Warn("doctext: extraction failed",
			zap.String("filename", filename),
			zap.String("content_type", contentType),
			zap.Error(err),
		)
		return ErrorText(filename, err)
	}
	return text
}

// ErrorText is the placeholder used in place of text that could not be
// extracted.
func ErrorText(filename string, err error) string {
	return fmt.Sprintf("[Error extracting text from %s: %s]", filename, err.Error())
}

func (p *Parser) parse(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", eris.New("empty file")
	}
	switch format := Detect(filename, contentType, data); format {
	case FormatPDF:
		if p.ocr == nil {
			return "", eris.New("no PDF extractor configured")
		}
		text, err := p.ocr.ExtractText(ctx, data)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	case FormatXLSX:
		return XLSXText(data)
	case FormatDOCX:
		return DOCXText(data)
	case FormatHTML:
		return p.html.Convert(string(data))
	case FormatCSV:
		return CSVText(ctx, data)
	case FormatText:
		if !utf8.Valid(data) {
			return strings.ToValidUTF8(string(data), "�"), nil
		}
		return string(data), nil
	default:
		return "", eris.Errorf("unsupported format (content type %q)", contentType)
	}
}
