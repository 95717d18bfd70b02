package document

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(opts Options) *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	opts.Logger = logger
	return NewRegistry(opts)
}

func TestRegistry_Detect(t *testing.T) {
	r := newTestRegistry(Options{})

	tests := []struct {
		name string
		file File
		want Format
	}{
		{name: "text by mime", file: File{Name: "notes", MIMEType: "text/plain; charset=utf-8"}, want: FormatTXT},
		{name: "pdf by mime", file: File{Name: "scan.bin", MIMEType: MIMEPDF}, want: FormatPDF},
		{name: "docx by mime", file: File{Name: "x", MIMEType: MIMEDocx}, want: FormatDocx},
		{name: "pdf by extension", file: File{Name: "report.PDF", MIMEType: "application/octet-stream"}, want: FormatPDF},
		{name: "docx by extension", file: File{Name: "letter.docx"}, want: FormatDocx},
		{name: "mime wins over extension", file: File{Name: "report.pdf", MIMEType: MIMEText}, want: FormatTXT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := r.Detect(&tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Format())
		})
	}
}

func TestRegistry_DetectUnsupported(t *testing.T) {
	r := newTestRegistry(Options{})

	for _, f := range []*File{
		{Name: "image.png", MIMEType: "image/png"},
		{Name: "notes.md"},
		{Name: "noext"},
		nil,
	} {
		_, err := r.Detect(f)
		assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)
	}
}

func TestRegistry_ExtendedFormats(t *testing.T) {
	r := newTestRegistry(Options{Extended: true})

	assert.Equal(t, []Format{FormatTXT, FormatPDF, FormatDocx, FormatMD, FormatJSON, FormatCSV}, r.Formats())

	for name, want := range map[string]Format{
		"readme.md":  FormatMD,
		"data.json":  FormatJSON,
		"table.csv":  FormatCSV,
		"plain.text": FormatTXT,
	} {
		h, err := r.Detect(&File{Name: name})
		require.NoError(t, err, name)
		assert.Equal(t, want, h.Format(), name)
	}
}

func TestRegistry_ExtractStripsFormulas(t *testing.T) {
	r := newTestRegistry(Options{})

	content, err := r.Extract(context.Background(), &File{
		Name: "physics.txt",
		Data: []byte("The formula $E=mc^2$ is famous."),
	})
	require.NoError(t, err)

	assert.Equal(t, FormatTXT, content.Format)
	assert.Equal(t, "The formula __FORMULA_0__ is famous.", content.Text)
	assert.Equal(t, "$E=mc^2$", content.Formulas["__FORMULA_0__"])
	assert.Equal(t, LanguageAuto, content.Metadata.DetectedLanguage)
}

func TestRegistry_ExtractWrapsErrors(t *testing.T) {
	r := newTestRegistry(Options{})

	_, err := r.Extract(context.Background(), &File{Name: "broken.docx", Data: []byte("not a zip")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract docx:")
	assert.False(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestRegistry_RebuildEveryFormat(t *testing.T) {
	r := newTestRegistry(Options{Extended: true})
	ctx := context.Background()

	files := []*File{
		{Name: "notes.txt", MIMEType: MIMEText, Data: []byte("hello")},
		{Name: "report.pdf", MIMEType: MIMEPDF, Data: buildTestPDF(t, []string{"one", "two", "three"})},
		{Name: "letter.docx", MIMEType: MIMEDocx, Data: buildTestDocx(t, "hello", "world")},
		{Name: "readme.md", Data: []byte("# title")},
		{Name: "data.json", Data: []byte(`{"a":"b"}`)},
		{Name: "table.csv", Data: []byte("a,b")},
	}

	for _, f := range files {
		t.Run(f.Name, func(t *testing.T) {
			content, err := r.Extract(ctx, f)
			require.NoError(t, err)

			artifact, err := r.Rebuild(ctx, f, content.Text, "es")
			require.NoError(t, err)
			assert.NotEmpty(t, artifact.Content)
			assert.Contains(t, artifact.FileName, "_translated")
		})
	}
}

// failingHandler claims a format but cannot rebuild it.
type failingHandler struct {
	*TextHandler
}

func (failingHandler) Rebuild(context.Context, *File, string) ([]byte, error) {
	return nil, errors.New("writer exploded")
}

func TestRegistry_RebuildFallsBackToText(t *testing.T) {
	r := newTestRegistry(Options{})
	r.Register(failingHandler{&TextHandler{
		format:     FormatDocx,
		mimeTypes:  []string{MIMEDocx},
		extensions: []string{".docx"},
		outputMIME: MIMEDocx,
	}})

	translated := "  translated text\n\nwith  spacing\t"
	artifact, err := r.Rebuild(context.Background(), &File{Name: "letter.docx", MIMEType: MIMEDocx}, translated, "es")
	require.NoError(t, err)

	assert.True(t, artifact.Fallback)
	assert.Equal(t, MIMEText, artifact.MIMEType)
	assert.Equal(t, "letter_translated.txt", artifact.FileName)
	assert.Equal(t, translated, string(artifact.Content))
	assert.Contains(t, artifact.FallbackReason, "writer exploded")
}

func TestRegistry_FallbackKeepsInvalidUTF8(t *testing.T) {
	r := newTestRegistry(Options{})

	translated := "bad \xff bytes"
	artifact, err := r.Rebuild(context.Background(), &File{Name: "notes.txt"}, translated, "es")
	require.NoError(t, err)

	assert.True(t, artifact.Fallback)
	assert.Equal(t, []byte(translated), artifact.Content)
	assert.Contains(t, artifact.FallbackReason, errInvalidUTF8.Error())
}

func TestRegistry_FallbackCancelled(t *testing.T) {
	r := newTestRegistry(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rebuild(ctx, &File{Name: "notes.txt"}, "bad \xff bytes", "es")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_LanguageSuffix(t *testing.T) {
	r := newTestRegistry(Options{LanguageSuffix: true})

	artifact, err := r.Rebuild(context.Background(), &File{Name: "notes.txt"}, "hola", "es")
	require.NoError(t, err)
	assert.Equal(t, "notes_es_translated.txt", artifact.FileName)
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		original, lang, ext, want string
	}{
		{"report.pdf", "", ".pdf", "report_translated.pdf"},
		{"report.pdf", "ar", ".pdf", "report_ar_translated.pdf"},
		{"archive.tar.gz", "", ".txt", "archive.tar_translated.txt"},
		{"/tmp/uploads/letter.docx", "", "docx", "letter_translated.docx"},
		{"", "", ".txt", "document_translated.txt"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ArtifactName(tt.original, tt.lang, tt.ext))
	}
}
