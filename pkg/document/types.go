package document

import (
	"errors"
	"mime"
	"strings"

	"github.com/dasmlab/doctrans/pkg/formula"
)

// Format identifies a document container type.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
	FormatMD   Format = "md"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// MIME types produced or accepted by the built-in handlers.
const (
	MIMEText     = "text/plain"
	MIMEPDF      = "application/pdf"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEMarkdown = "text/markdown"
	MIMEJSON     = "application/json"
	MIMECSV      = "text/csv"
)

// ErrUnsupportedFormat is returned when no handler accepts a file.
var ErrUnsupportedFormat = errors.New("unsupported format")

// File is an uploaded document held in memory.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Metadata describes an extracted document.
type Metadata struct {
	PageCount        int    `json:"page_count,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

// Content is the result of extraction: text ready for translation with
// formulas replaced by placeholders.
type Content struct {
	Format   Format
	Text     string
	Formulas formula.Map
	Metadata Metadata
}

// Artifact is a rebuilt, downloadable document.
type Artifact struct {
	Content  []byte
	FileName string
	MIMEType string

	// Fallback is set when format-specific rebuild failed and the artifact
	// carries the translated text as plain text instead.
	Fallback       bool
	FallbackReason string
}

// normalizeMIME lowercases a MIME type and drops its parameters.
func normalizeMIME(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(v); err == nil {
		return mediaType
	}
	if idx := strings.IndexByte(v, ';'); idx >= 0 {
		v = v[:idx]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
