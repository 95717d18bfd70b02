package document

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/sirupsen/logrus"
)

const (
	// overlayMaxChars bounds the translated snippet stamped on each page.
	overlayMaxChars = 200

	// overlayDescription is the pdfcpu stamp configuration: small gray text
	// anchored 50pt from the left and 30pt from the bottom of the page.
	overlayDescription = "fontname:Helvetica, points:8, position:bl, offset:50 30, scalefactor:1 abs, rotation:0, fillcolor:#808080"
)

// pageMarkerRe matches a page marker line. Any label of letters may precede
// the number so that markers survive translation ("[Page 2]", "[PÁGINA 2]");
// a bare "[3]" is a citation, not a marker.
var pageMarkerRe = regexp.MustCompile(`(?m)^[ \t]*\[\pL[\pL \t]*?[ \t]+(\d+)\][ \t]*$`)

// PDFHandler extracts the text layer page by page and rebuilds by stamping
// the translated text over the original pages. It does not re-typeset.
type PDFHandler struct {
	logger *logrus.Logger
}

// NewPDFHandler creates a PDF handler.
func NewPDFHandler(logger *logrus.Logger) *PDFHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PDFHandler{logger: logger}
}

func (h *PDFHandler) Format() Format { return FormatPDF }
func (h *PDFHandler) MIMETypes() []string { return []string{MIMEPDF} }
func (h *PDFHandler) Extensions() []string { return []string{".pdf"} }
func (h *PDFHandler) OutputMIMEType() string { return MIMEPDF }

// PageMarker returns the line that introduces page n in extracted text.
func PageMarker(n int) string {
	return fmt.Sprintf("[Page %d]", n)
}

// Extract walks the text layer of every page. Each page is introduced by a
// PageMarker line so that Rebuild can map translated text back to pages.
func (h *PDFHandler) Extract(ctx context.Context, file *File) (text string, meta Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, meta = "", Metadata{}
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return "", Metadata{}, fmt.Errorf("open pdf: %w", err)
	}

	pageCount := reader.NumPage()
	var sb strings.Builder

	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return "", Metadata{}, err
		}

		var pageText string
		page := reader.Page(i)
		if !page.V.IsNull() {
			content, perr := page.GetPlainText(nil)
			if perr != nil {
				h.logger.WithError(perr).WithFields(logrus.Fields{
					"file": file.Name,
					"page": i,
				}).Warn("Failed to read page text layer")
			} else {
				pageText = content
			}
		}

		sb.WriteString("\n")
		sb.WriteString(PageMarker(i))
		sb.WriteString("\n")
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}

	return sb.String(), Metadata{PageCount: pageCount}, nil
}

// Rebuild keeps the original pages and stamps the translated section of
// each page at a fixed position in a small font.
func (h *PDFHandler) Rebuild(ctx context.Context, original *File, translated string) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("stamp pdf: %v", r)
		}
	}()

	if original == nil || len(original.Data) == 0 {
		return nil, fmt.Errorf("original pdf is empty")
	}

	pageCount, err := api.PageCount(bytes.NewReader(original.Data), newPDFConfiguration())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	sections := SplitPages(translated)
	stamps := make(map[int]*model.Watermark, pageCount)
	for page := 1; page <= pageCount; page++ {
		wm, err := api.TextWatermark(overlayText(sections[page]), overlayDescription, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("page %d overlay: %w", page, err)
		}
		stamps[page] = wm
	}

	var buf bytes.Buffer
	if err := api.AddWatermarksMap(bytes.NewReader(original.Data), &buf, stamps, newPDFConfiguration()); err != nil {
		return nil, fmt.Errorf("stamp pdf: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"file":  original.Name,
		"pages": pageCount,
		"bytes": buf.Len(),
	}).Debug("Stamped translated text on pdf pages")

	return buf.Bytes(), nil
}

// SplitPages maps page numbers to the text that follows their marker.
// Text before the first marker is ignored; text without any marker all
// belongs to page 1.
func SplitPages(text string) map[int]string {
	sections := make(map[int]string)
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if body := strings.TrimSpace(text); body != "" {
			sections[1] = body
		}
		return sections
	}

	for i, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if prev := sections[n]; prev != "" {
			body = prev + "\n" + body
		}
		sections[n] = body
	}

	return sections
}

// overlayText flattens a page section to a single line and truncates it.
func overlayText(section string) string {
	flat := strings.Join(strings.Fields(section), " ")
	runes := []rune(flat)
	if len(runes) > overlayMaxChars {
		runes = runes[:overlayMaxChars]
	}
	return string(runes) + "..."
}

func newPDFConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
