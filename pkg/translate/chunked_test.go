package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTranslator wraps text in brackets and remembers what it was sent.
type recordingTranslator struct {
	calls  []string
	failOn string
}

func (r *recordingTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	r.calls = append(r.calls, text)
	if r.failOn != "" && strings.Contains(text, r.failOn) {
		return "", errors.New("backend rejected chunk")
	}
	return "<" + text + ">", nil
}

func (r *recordingTranslator) CheckHealth(ctx context.Context) error { return nil }

func (r *recordingTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en"}, nil
}

func TestSplitChunks_ConcatenationIsLossless(t *testing.T) {
	texts := []string{
		"",
		"short",
		strings.Repeat("Sentence one. Sentence two! Question? ", 40),
		strings.Repeat("para line\n\n\n", 30) + "tail",
		strings.Repeat("é", 500),
		strings.Repeat("word ", 300) + "\n\n" + strings.Repeat("x", 700),
	}

	for _, text := range texts {
		chunks := SplitChunks(text, 64)
		assert.Equal(t, text, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 64)
		}
	}
}

func TestSplitChunks_PrefersParagraphs(t *testing.T) {
	text := "first paragraph here\n\nsecond paragraph here\n\nthird"

	chunks := SplitChunks(text, 30)

	assert.Equal(t, []string{"first paragraph here\n\n", "second paragraph here\n\nthird"}, chunks)
}

func TestChunkedTranslator_PreservesSeparatorsAndOrder(t *testing.T) {
	backend := &recordingTranslator{}
	c := NewChunkedTranslator(backend, ChunkOptions{MaxChunkSize: 40, Logger: quietLogger()})

	var progress [][2]int
	out, err := c.TranslateWithProgress(context.Background(),
		"\n[Page 1]\nfirst paragraph here\n\n\nsecond paragraph here\n\nthird\n", "en", "es",
		func(done, total int) { progress = append(progress, [2]int{done, total}) })
	require.NoError(t, err)

	assert.Equal(t, "\n<[Page 1]\nfirst paragraph here>\n\n\n<second paragraph here\n\nthird>\n", out)
	assert.Equal(t, []string{"[Page 1]\nfirst paragraph here", "second paragraph here\n\nthird"}, backend.calls)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
}

func TestChunkedTranslator_SmallTextIsOneCall(t *testing.T) {
	backend := &recordingTranslator{}
	c := NewChunkedTranslator(backend, ChunkOptions{Logger: quietLogger()})

	out, err := c.Translate(context.Background(), "  hello  ", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "  <hello>  ", out)
	assert.Equal(t, []string{"hello"}, backend.calls)

	out, err = c.Translate(context.Background(), " \n ", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, " \n ", out)
	assert.Len(t, backend.calls, 1)
}

func TestChunkedTranslator_ChunkFailure(t *testing.T) {
	text := "alpha block\n\nbravo block\n\ncharlie block"

	strict := NewChunkedTranslator(&recordingTranslator{failOn: "bravo"}, ChunkOptions{MaxChunkSize: 15, Logger: quietLogger()})
	_, err := strict.Translate(context.Background(), text, "en", "es")
	assert.ErrorContains(t, err, "chunk 2/3")

	lenient := NewChunkedTranslator(&recordingTranslator{failOn: "bravo"}, ChunkOptions{
		MaxChunkSize:      15,
		KeepSourceOnError: true,
		Logger:            quietLogger(),
	})
	out, err := lenient.Translate(context.Background(), text, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "<alpha block>\n\nbravo block\n\n<charlie block>", out)
}
