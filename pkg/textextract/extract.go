package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtraction        = errors.New("extraction failed")
	ErrMissingHint       = errors.New("filename hint required for in-memory sources")
)

type ExtractedText struct {
	Content string
	Pages   int
	Format  string
}

// FormatOf returns the lower-cased extension of name if it is supported.
func FormatOf(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf", ".docx", ".txt", ".csv":
		return ext, nil
	case "":
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, name)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".csv"}
}

// ExtractFile reads the document at path and extracts its text. The format
// is taken from the path's extension.
func ExtractFile(path string) (*ExtractedText, error) {
	if _, err := FormatOf(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ExtractBytes(data, filepath.Base(path))
}

// ExtractBytes extracts text from an in-memory document. filenameHint is
// only used to pick the format.
func ExtractBytes(data []byte, filenameHint string) (*ExtractedText, error) {
	if filenameHint == "" {
		return nil, ErrMissingHint
	}
	return Extract(bytes.NewReader(data), int64(len(data)), filenameHint)
}

func Extract(data io.ReaderAt, size int64, filenameHint string) (*ExtractedText, error) {
	ext, err := FormatOf(filenameHint)
	if err != nil {
		return nil, err
	}

	switch ext {
	case ".pdf":
		return extractPDF(data, size)
	case ".docx":
		return extractDOCX(data, size)
	default:
		return extractTXT(data, size, strings.TrimPrefix(ext, "."))
	}
}

// extractPDF concatenates the text of every page. Pages without a text layer
// (scans, images) or whose content stream can't be decoded contribute nothing.
func extractPDF(data io.ReaderAt, size int64) (result *ExtractedText, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: pdf parser: %v", ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("%w: open PDF: %v", ErrExtraction, err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		buf.WriteString(pageText(reader.Page(i)))
		buf.WriteString("\n")
	}

	return &ExtractedText{
		Content: buf.String(),
		Pages:   numPages,
		Format:  "pdf",
	}, nil
}

func pageText(page pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("%w: open DOCX: %v", ErrExtraction, err)
	}

	for _, f := range reader.File {
		if !strings.EqualFold(f.Name, "word/document.xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open document.xml: %v", ErrExtraction, err)
		}
		defer rc.Close()

		paragraphs, err := docxParagraphs(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: parse document.xml: %v", ErrExtraction, err)
		}
		return &ExtractedText{
			Content: strings.Join(paragraphs, "\n"),
			Pages:   1,
			Format:  "docx",
		}, nil
	}

	return nil, fmt.Errorf("%w: DOCX has no word/document.xml", ErrExtraction)
}

// docxParagraphs returns the text of every w:p element in document order.
// Runs nested in hyperlinks, fields and tables are included.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		current    strings.Builder
		depth      int
		runDepth   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if depth == 0 {
					current.Reset()
				}
				depth++
			case "r":
				runDepth++
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				current.WriteString(s)
			case "tab":
				if runDepth > 0 {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if runDepth > 0 {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "r" && runDepth > 0 {
				runDepth--
			}
			if t.Name.Local == "p" && depth > 0 {
				depth--
				if depth == 0 {
					paragraphs = append(paragraphs, current.String())
				}
			}
		}
	}
	return paragraphs, nil
}

// extractTXT decodes UTF-8, dropping undecodable bytes instead of failing.
func extractTXT(data io.ReaderAt, size int64, format string) (*ExtractedText, error) {
	buf, err := io.ReadAll(io.NewSectionReader(data, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrExtraction, format, err)
	}

	content := string(buf)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}

	return &ExtractedText{
		Content: content,
		Pages:   1,
		Format:  format,
	}, nil
}
