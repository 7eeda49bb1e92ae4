// Package docparse turns an uploaded file into ordered plain text.
package docparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyDocument   = errors.New("document contains no extractable text")
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrTooLarge        = errors.New("upload too large")
)

var pdfMagic = []byte("%PDF-")

// Extract detects PDFs by their magic header and falls back to UTF-8 text.
func Extract(content []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch {
	case bytes.HasPrefix(content, pdfMagic):
		text, err = extractPDF(content)
		if err != nil {
			return "", err
		}
	case utf8.Valid(content):
		text = string(content)
	default:
		return "", ErrUnsupportedType
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d failed: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// ReadAll caps reads at limit bytes so oversized uploads fail before parsing.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
