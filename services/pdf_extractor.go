package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyPDF    = errors.New("empty PDF content")
	ErrPDFNoPages  = errors.New("PDF has no pages")
	ErrPDFScanned  = errors.New("insufficient text extracted from PDF, it may be scanned")
	minUsefulChars = 50
)

// PDFExtractor pulls plain text out of uploaded PDFs using ledongthuc/pdf.
type PDFExtractor struct {
	// MaxChars truncates output; zero means unlimited.
	MaxChars int
}

func NewPDFExtractor(maxChars int) *PDFExtractor {
	return &PDFExtractor{MaxChars: maxChars}
}

// sanitizePDF cuts anything appended after the last %%EOF marker.
func sanitizePDF(content []byte) []byte {
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}
	eof := bytes.LastIndex(content, []byte("%%EOF"))
	if eof == -1 {
		return content
	}
	end := eof + len("%%EOF")
	for end < len(content) && (content[end] == '\n' || content[end] == '\r') {
		end++
	}
	if len(content)-end > 10 {
		log.Debugw("[PDF] trimming trailing bytes after %%EOF", "bytes", len(content)-end)
		return content[:end]
	}
	return content
}

// ExtractText returns the document text page by page, row by row.
func (p *PDFExtractor) ExtractText(content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyPDF
	}
	content = sanitizePDF(content)

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}
	numPages := reader.NumPage()
	if numPages == 0 {
		return "", ErrPDFNoPages
	}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		if p.MaxChars > 0 && b.Len() >= p.MaxChars {
			break
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			text, plainErr := page.GetPlainText(nil)
			if plainErr != nil {
				log.Debugw("[PDF] page extraction failed", "page", i, "error", plainErr)
				continue
			}
			b.WriteString(text)
			b.WriteString("\n")
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			if s := strings.TrimSpace(line.String()); s != "" {
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	extracted := strings.TrimSpace(b.String())
	if len(extracted) < minUsefulChars {
		return "", fmt.Errorf("%w (only %d characters)", ErrPDFScanned, len(extracted))
	}
	if p.MaxChars > 0 && len(extracted) > p.MaxChars {
		extracted = truncateRunes(extracted, p.MaxChars)
	}
	return extracted, nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
