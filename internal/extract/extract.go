package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

var (
	// ErrUnsupportedFormat indicates an upload with a file extension
	// the extractor cannot handle; surfaced to HTTP callers as 415.
	ErrUnsupportedFormat = errors.New("extract: unsupported document format")

	// ErrTooLarge indicates an upload over the configured byte limit;
	// surfaced to HTTP callers as 413.
	ErrTooLarge = errors.New("extract: document exceeds size limit")

	// ErrEmptyDocument indicates extraction produced no usable text.
	ErrEmptyDocument = errors.New("extract: document contains no text")
)

// Extractor turns uploaded contract documents into plain text.
// PDF text is extracted page by page; txt and md pass through.
type Extractor struct {
	maxBytes    int64
	maxPDFPages int
	logger      *logger.Logger
}

// New creates an extractor with the configured limits.
func New(cfg config.ExtractConfig, log *logger.Logger) *Extractor {
	maxPages := cfg.MaxPDFPages
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Extractor{
		maxBytes:    cfg.MaxUploadBytes,
		maxPDFPages: maxPages,
		logger:      log,
	}
}

// Supported reports whether the file name's extension is handled.
func (e *Extractor) Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// Text extracts cleaned plain text from an uploaded document.
func (e *Extractor) Text(fileName string, data []byte) (string, error) {
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), e.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	var text string
	var err error
	switch ext {
	case ".pdf":
		text, err = e.pdfText(data)
	case ".txt", ".md":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}

	text = CleanText(text)
	if text == "" {
		return "", ErrEmptyDocument
	}

	e.logger.Debug("Document text extracted",
		zap.String("file", filepath.Base(fileName)),
		zap.String("format", ext),
		zap.Int("bytes_in", len(data)),
		zap.Int("chars_out", len(text)),
	)
	return text, nil
}

// pdfText extracts text from PDF pages up to the configured page
// limit. Pages that fail to decode are skipped rather than failing
// the whole document.
func (e *Extractor) pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount > e.maxPDFPages {
		e.logger.Warn("PDF truncated to page limit",
			zap.Int("pages", pageCount),
			zap.Int("limit", e.maxPDFPages),
		)
		pageCount = e.maxPDFPages
	}

	var buf bytes.Buffer
	skipped := 0
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			skipped++
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			skipped++
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(pageText)
	}
	if skipped > 0 {
		e.logger.Warn("Some PDF pages could not be decoded", zap.Int("skipped", skipped))
	}
	return buf.String(), nil
}

// CleanText normalizes extracted text: control characters other than
// newlines and tabs are dropped, runs of spaces and tabs collapse to a
// single space, blank lines collapse, and the result is trimmed.
func CleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}

	lines := strings.Split(sb.String(), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
