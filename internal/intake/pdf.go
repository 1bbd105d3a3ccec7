package intake

import (
	"bytes"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pageSeparator marks a page boundary in extracted text.
const pageSeparator = "\n\n"

var disableConfigDir sync.Once

func pdfcpuConfig() *model.Configuration {
	// Lambda has no writable home directory for pdfcpu's config files.
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// extractPDF validates the document structure with pdfcpu and then reads the
// text layer page by page.
func extractPDF(raw []byte) (text string, pages int, err error) {
	pages, err = pdfPageCount(raw)
	if err != nil {
		return "", 0, err
	}

	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, corrupt("pdf text extraction: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", 0, corrupt("open pdf: %v", err)
	}

	texts := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		texts = append(texts, pageText(reader.Page(i)))
	}
	return strings.Join(texts, pageSeparator), len(texts), nil
}

func pdfPageCount(raw []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, corrupt("pdf structure: %v", r)
		}
	}()
	n, err = api.PageCount(bytes.NewReader(raw), pdfcpuConfig())
	if err != nil {
		return 0, corrupt("pdf structure: %v", err)
	}
	return n, nil
}

// pageText returns "" for pages without a readable text layer.
func pageText(p pdf.Page) string {
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
