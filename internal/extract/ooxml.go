package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

var (
	errWorkbookNotFound     = errors.New("xlsx: workbook not found")
	errDocumentBodyNotFound = errors.New("docx: document body not found")
)

// zipIndex maps lower-cased entry names to zip entries
func zipIndex(files []*zip.File) map[string]*zip.File {
	idx := make(map[string]*zip.File, len(files))
	for _, f := range files {
		idx[strings.ToLower(f.Name)] = f
	}
	return idx
}

// limitReader fails instead of truncating once more than n bytes are read
type limitReader struct {
	r io.Reader
	n int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, errTooLarge
	}
	return n, err
}

// walkPart streams the XML tokens of a zip entry to fn
func walkPart(f *zip.File, maxBytes int64, fn func(xml.Token) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(&limitReader{r: rc, n: maxBytes})
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.Name, err)
		}
		if err := fn(tok); err != nil {
			return err
		}
	}
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// xlsxExtractText joins every resolved cell value across all sheets,
// in workbook sheet order and row order within each sheet.
func xlsxExtractText(ctx context.Context, filePath string, maxBytes int64) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	files := zipIndex(zr.File)
	workbook, ok := files["xl/workbook.xml"]
	if !ok {
		return "", errWorkbookNotFound
	}

	var shared []string
	if f, ok := files["xl/sharedstrings.xml"]; ok {
		if shared, err = xlsxSharedStrings(f, maxBytes); err != nil {
			return "", err
		}
	}

	sheets, err := xlsxSheetOrder(workbook, files, maxBytes)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if parts, err = xlsxSheetCells(sheet, shared, maxBytes, parts); err != nil {
			return "", err
		}
	}

	return strings.Join(parts, " "), nil
}

func xlsxSharedStrings(f *zip.File, maxBytes int64) ([]string, error) {
	var (
		shared      []string
		current     strings.Builder
		inItem      bool
		inText      bool
		phoneticRun int
	)

	err := walkPart(f, maxBytes, func(tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "rPh":
				phoneticRun++
			case "t":
				inText = inItem && phoneticRun == 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				shared = append(shared, current.String())
				inItem = false
			case "rPh":
				phoneticRun--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shared, nil
}

// xlsxSheetOrder resolves worksheet parts in the order the workbook lists
// them, falling back to numeric sheetN order without relationships.
func xlsxSheetOrder(workbook *zip.File, files map[string]*zip.File, maxBytes int64) ([]*zip.File, error) {
	var ids []string
	err := walkPart(workbook, maxBytes, func(tok xml.Token) error {
		if el, ok := tok.(xml.StartElement); ok && el.Name.Local == "sheet" {
			ids = append(ids, attrValue(el, "id"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	targets := make(map[string]string)
	if rels, ok := files["xl/_rels/workbook.xml.rels"]; ok {
		err := walkPart(rels, maxBytes, func(tok xml.Token) error {
			if el, ok := tok.(xml.StartElement); ok && el.Name.Local == "Relationship" {
				targets[attrValue(el, "Id")] = attrValue(el, "Target")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var ordered []*zip.File
	used := make(map[*zip.File]bool)
	for _, id := range ids {
		target, ok := targets[id]
		if !ok {
			continue
		}
		name := strings.TrimPrefix(target, "/")
		if !strings.HasPrefix(strings.ToLower(name), "xl/") {
			name = path.Join("xl", name)
		}
		if f, ok := files[strings.ToLower(name)]; ok && !used[f] {
			ordered = append(ordered, f)
			used[f] = true
		}
	}

	// Sheets not reachable through relationships, by sheet number
	var rest []*zip.File
	for name, f := range files {
		if strings.HasPrefix(name, "xl/worksheets/") && strings.HasSuffix(name, ".xml") && !used[f] {
			rest = append(rest, f)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return sheetNumber(rest[i].Name) < sheetNumber(rest[j].Name)
	})

	return append(ordered, rest...), nil
}

func sheetNumber(name string) int {
	base := strings.TrimSuffix(path.Base(strings.ToLower(name)), ".xml")
	n, err := strconv.Atoi(strings.TrimPrefix(base, "sheet"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

func xlsxSheetCells(sheet *zip.File, shared []string, maxBytes int64, parts []string) ([]string, error) {
	var (
		cellType string
		inCell   bool
		inValue  bool
		value    strings.Builder
	)

	err := walkPart(sheet, maxBytes, func(tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "c":
				inCell = true
				cellType = attrValue(t, "t")
				value.Reset()
			case "v", "t":
				inValue = inCell
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				inCell = false
				text := value.String()
				if cellType == "s" {
					idx, err := strconv.Atoi(strings.TrimSpace(text))
					if err != nil || idx < 0 || idx >= len(shared) {
						return fmt.Errorf("xlsx: invalid shared string reference %q in %s", text, sheet.Name)
					}
					text = shared[idx]
				}
				if text != "" {
					parts = append(parts, text)
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// docxExtractText returns the visible body text, one line per paragraph
func docxExtractText(filePath string, maxBytes int64) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	document, ok := zipIndex(zr.File)["word/document.xml"]
	if !ok {
		return "", errDocumentBodyNotFound
	}

	var (
		sb      strings.Builder
		hasBody bool
		inBody  bool
		inText  bool
	)

	err = walkPart(document, maxBytes, func(tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "body":
				hasBody = true
				inBody = true
			case "t":
				inText = inBody
			case "tab":
				if inBody {
					sb.WriteByte('\t')
				}
			case "br", "cr":
				if inBody {
					sb.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "body":
				inBody = false
			case "t":
				inText = false
			case "p":
				if inBody {
					sb.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !hasBody {
		return "", errDocumentBodyNotFound
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
