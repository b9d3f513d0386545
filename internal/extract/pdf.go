package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

func pdfOpen(path string) (*os.File, *pdf.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	r, err := pdf.NewReader(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, r, nil
}

// pdfExtractText concatenates the plain text of every page in page order.
// The pure-Go parser can panic on malformed input; panics become errors.
func pdfExtractText(ctx context.Context, path string, maxFileBytes int64) (text string, err error) {
	if st, err := os.Stat(path); err == nil && st.Size() > maxFileBytes {
		return "", errTooLarge
	}

	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("pdf: parser panic: %v", rec)
		}
	}()

	f, r, err := pdfOpen(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	pages := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; ok {
				continue
			}
			fnt := p.Font(name)
			fonts[name] = &fnt
		}

		pageText, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("pdf: page %d: %w", i, err)
		}
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}

	return sb.String(), nil
}
