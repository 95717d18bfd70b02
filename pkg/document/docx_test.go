package document

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestDocx writes a minimal Word archive with one paragraph per entry.
func buildTestDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	return zipParts(t, map[string]string{docxDocumentPart: body.String()})
}

func zipParts(t *testing.T, parts map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readZipPart(t *testing.T, data []byte, name string) string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(b)
		}
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func TestDocxHandler_Extract(t *testing.T) {
	h := NewDocxHandler()
	xmlBody := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Title</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Split </w:t></w:r><w:r><w:t>run</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>
<w:p><w:r><w:t>line</w:t><w:br/><w:t>break &amp; more</w:t></w:r></w:p>
</w:body></w:document>`

	text, _, err := h.Extract(context.Background(), &File{
		Name: "doc.docx",
		Data: zipParts(t, map[string]string{docxDocumentPart: xmlBody}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Title\nSplit run\ttabbed\nline\nbreak & more", text)
}

func TestDocxHandler_ExtractErrors(t *testing.T) {
	h := NewDocxHandler()
	ctx := context.Background()

	_, _, err := h.Extract(ctx, &File{Name: "x.docx", Data: []byte("plain bytes")})
	assert.ErrorContains(t, err, "open zip")

	_, _, err = h.Extract(ctx, &File{Name: "x.docx", Data: zipParts(t, map[string]string{"other.xml": "<a/>"})})
	assert.ErrorIs(t, err, errDocxNoBody)

	var deep strings.Builder
	deep.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`)
	for i := 0; i < 300; i++ {
		deep.WriteString("<w:p>")
	}
	for i := 0; i < 300; i++ {
		deep.WriteString("</w:p>")
	}
	deep.WriteString("</w:document>")
	_, _, err = h.Extract(ctx, &File{Name: "x.docx", Data: zipParts(t, map[string]string{docxDocumentPart: deep.String()})})
	assert.ErrorContains(t, err, "nesting depth")
}

func TestDocxHandler_Rebuild(t *testing.T) {
	h := NewDocxHandler()

	out, err := h.Rebuild(context.Background(), &File{Name: "letter.docx"}, "  Hola <mundo> & co  \n\n\nSegunda línea\n   \n")
	require.NoError(t, err)

	doc := readZipPart(t, out, docxDocumentPart)
	assert.Equal(t, 2, strings.Count(doc, "<w:p>"))
	assert.Contains(t, doc, "Hola &lt;mundo&gt; &amp; co</w:t>")
	assert.Contains(t, doc, `<w:rFonts w:ascii="Calibri"`)
	assert.Contains(t, doc, `<w:sz w:val="24"/>`)
	assert.Contains(t, doc, `<w:spacing w:line="240" w:lineRule="auto"/>`)
	assert.Contains(t, readZipPart(t, out, "[Content_Types].xml"), "/word/document.xml")
	assert.Contains(t, readZipPart(t, out, "_rels/.rels"), `Target="word/document.xml"`)

	// The rebuilt document reads back as the trimmed, non-empty lines.
	text, _, err := h.Extract(context.Background(), &File{Name: "letter_translated.docx", Data: out})
	require.NoError(t, err)
	assert.Equal(t, "Hola <mundo> & co\nSegunda línea", text)
}
