package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	docxDocumentPart = "word/document.xml"

	// maxDocxPartSize caps the decompressed size of word/document.xml.
	maxDocxPartSize = 64 << 20
	// maxXMLDepth caps element nesting while scanning document.xml.
	maxXMLDepth = 256
)

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// Paragraph layout of rebuilt documents: Calibri 12pt (sizes are in
// half-points), single line spacing.
const (
	docxFont     = "Calibri"
	docxFontSize = 24
	docxSpacing  = 240
)

var errDocxNoBody = errors.New(docxDocumentPart + " not found in archive")

// DocxHandler reads the body text of Word documents and writes translated
// text as a new single-section document with one paragraph per line.
type DocxHandler struct{}

// NewDocxHandler creates a DOCX handler.
func NewDocxHandler() *DocxHandler {
	return &DocxHandler{}
}

func (h *DocxHandler) Format() Format { return FormatDocx }
func (h *DocxHandler) MIMETypes() []string { return []string{MIMEDocx} }
func (h *DocxHandler) Extensions() []string { return []string{".docx"} }
func (h *DocxHandler) OutputMIMEType() string { return MIMEDocx }

// Extract returns the raw text of word/document.xml. Paragraphs end with a
// newline, w:tab becomes a tab and w:br a newline.
func (h *DocxHandler) Extract(ctx context.Context, file *File) (string, Metadata, error) {
	zr, err := zip.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return "", Metadata{}, fmt.Errorf("open zip: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxDocumentPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", Metadata{}, errDocxNoBody
	}
	if part.UncompressedSize64 > maxDocxPartSize {
		return "", Metadata{}, fmt.Errorf("%s too large: %d bytes", docxDocumentPart, part.UncompressedSize64)
	}

	rc, err := part.Open()
	if err != nil {
		return "", Metadata{}, fmt.Errorf("open %s: %w", docxDocumentPart, err)
	}
	defer rc.Close()

	text, err := scanDocxText(ctx, io.LimitReader(rc, maxDocxPartSize))
	if err != nil {
		return "", Metadata{}, err
	}
	return text, Metadata{}, nil
}

func scanDocxText(ctx context.Context, r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var sb strings.Builder
	var inText bool
	depth := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxDocumentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return "", fmt.Errorf("parse %s: nesting depth exceeds %d", docxDocumentPart, maxXMLDepth)
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			case "p":
				if err := ctx.Err(); err != nil {
					return "", err
				}
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}

// Rebuild writes a new document. Each non-blank line of the translated text,
// trimmed, becomes one paragraph. The original archive is not reused.
func (h *DocxHandler) Rebuild(ctx context.Context, original *File, translated string) ([]byte, error) {
	body, err := docxDocumentXML(translated)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name    string
		content []byte
	}{
		{"[Content_Types].xml", []byte(docxContentTypes)},
		{"_rels/.rels", []byte(docxRootRels)},
		{docxDocumentPart, body},
	}
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", p.name, err)
		}
		if _, err := w.Write(p.content); err != nil {
			return nil, fmt.Errorf("write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx archive: %w", err)
	}
	return buf.Bytes(), nil
}

func docxDocumentXML(text string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Fprintf(&buf, `<w:p><w:pPr><w:spacing w:line="%d" w:lineRule="auto"/></w:pPr>`, docxSpacing)
		fmt.Fprintf(&buf, `<w:r><w:rPr><w:rFonts w:ascii="%[1]s" w:hAnsi="%[1]s" w:cs="%[1]s"/><w:sz w:val="%[2]d"/><w:szCs w:val="%[2]d"/></w:rPr>`, docxFont, docxFontSize)
		buf.WriteString(`<w:t xml:space="preserve">`)
		if err := xml.EscapeText(&buf, []byte(line)); err != nil {
			return nil, fmt.Errorf("escape paragraph: %w", err)
		}
		buf.WriteString(`</w:t></w:r></w:p>`)
	}

	buf.WriteString(`<w:sectPr/></w:body></w:document>`)
	return buf.Bytes(), nil
}
