package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"litagent/internal/util"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor turns raw PDF bytes into normalized plain text.
type PDFExtractor struct{}

func NewPDFExtractor() PDFExtractor {
	return PDFExtractor{}
}

// Extract returns util.ErrNoExtractableText when the document parses but
// yields no text, e.g. scanned pages without an OCR layer.
func (PDFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", util.ErrNoExtractableText
	}
	text, err := plainText(data)
	if err != nil {
		return "", err
	}
	text = util.NormalizeDocumentText(text)
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

func plainText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf: malformed document: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}

// TitleAndAuthors guesses metadata for uploads that arrive without any: the
// first non-empty line is the title and the second the author list.
func TitleAndAuthors(text string) (string, string) {
	s := bufio.NewScanner(strings.NewReader(text))
	nonEmpty := make([]string, 0, 2)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		nonEmpty = append(nonEmpty, line)
		if len(nonEmpty) == 2 {
			break
		}
	}
	title := ""
	authors := ""
	if len(nonEmpty) > 0 {
		title = nonEmpty[0]
	}
	if len(nonEmpty) > 1 {
		authors = nonEmpty[1]
	}
	return title, authors
}
