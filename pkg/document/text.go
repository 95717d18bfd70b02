package document

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// errInvalidUTF8 is returned when translated text cannot be written out as text.
var errInvalidUTF8 = errors.New("text is not valid UTF-8")

// TextHandler reads and writes plain text formats. The extended formats
// (markdown, JSON, CSV) reuse it with their own MIME types and extensions.
type TextHandler struct {
	format     Format
	mimeTypes  []string
	extensions []string
	outputMIME string
}

// NewTextHandler handles .txt files.
func NewTextHandler() *TextHandler {
	return &TextHandler{
		format:     FormatTXT,
		mimeTypes:  []string{MIMEText},
		extensions: []string{".txt", ".text"},
		outputMIME: MIMEText,
	}
}

// NewMarkdownHandler handles .md files through the text path.
func NewMarkdownHandler() *TextHandler {
	return &TextHandler{
		format:     FormatMD,
		mimeTypes:  []string{MIMEMarkdown, "text/x-markdown"},
		extensions: []string{".md", ".markdown"},
		outputMIME: MIMEMarkdown,
	}
}

// NewJSONHandler handles .json files through the text path.
func NewJSONHandler() *TextHandler {
	return &TextHandler{
		format:     FormatJSON,
		mimeTypes:  []string{MIMEJSON},
		extensions: []string{".json"},
		outputMIME: MIMEJSON,
	}
}

// NewCSVHandler handles .csv files through the text path.
func NewCSVHandler() *TextHandler {
	return &TextHandler{
		format:     FormatCSV,
		mimeTypes:  []string{MIMECSV, "application/csv"},
		extensions: []string{".csv"},
		outputMIME: MIMECSV,
	}
}

func (h *TextHandler) Format() Format { return h.format }
func (h *TextHandler) MIMETypes() []string { return h.mimeTypes }
func (h *TextHandler) Extensions() []string { return h.extensions }
func (h *TextHandler) OutputMIMEType() string { return h.outputMIME }

// Extract decodes the file as text. A byte order mark selects UTF-8 or
// UTF-16; without one the data is read as UTF-8 and invalid sequences are
// replaced with U+FFFD.
func (h *TextHandler) Extract(ctx context.Context, file *File) (string, Metadata, error) {
	text, err := decodeText(file.Data)
	if err != nil {
		return "", Metadata{}, err
	}
	return text, Metadata{}, nil
}

// Rebuild re-encodes the translated text as UTF-8.
func (h *TextHandler) Rebuild(ctx context.Context, original *File, translated string) ([]byte, error) {
	if !utf8.ValidString(translated) {
		return nil, errInvalidUTF8
	}
	return []byte(translated), nil
}

func decodeText(data []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(out), nil
}
