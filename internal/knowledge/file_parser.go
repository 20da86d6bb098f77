package knowledge

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

// 支持的MIME类型
const (
	MIMEPDF      = "application/pdf"
	MIMECSV      = "text/csv"
	MIMEText     = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEHTML     = "text/html"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXlsx     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Section 文件中需要单独索引的一段内容
type Section struct {
	SourceID string
	Content  string
}

// FileParser 文件解析器接口
type FileParser interface {
	Parse(reader io.Reader, filename string) ([]Section, error)
}

// TextParser 纯文本与Markdown，整个文件作为一段
type TextParser struct{}

func (p *TextParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	return []Section{{SourceID: filename, Content: string(content)}}, nil
}

// CSVParser 每条记录作为一段，来源为 "<文件名>:<行号>"，内容为 "列名: 值" 多行文本
type CSVParser struct{}

func (p *CSVParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var sections []Section
	for row := 1; ; row++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}

		lines := make([]string, 0, len(record))
		blank := true
		for i, value := range record {
			name := fmt.Sprintf("column%d", i+1)
			if i < len(header) && header[i] != "" {
				name = header[i]
			}
			value = strings.TrimSpace(value)
			if value != "" {
				blank = false
			}
			lines = append(lines, name+": "+value)
		}
		if blank {
			continue
		}
		sections = append(sections, Section{
			SourceID: fmt.Sprintf("%s:%d", filename, row),
			Content:  strings.Join(lines, "\n"),
		})
	}
	return sections, nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("get pdf page count: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	return []Section{{SourceID: filename, Content: textBuilder.String()}}, nil
}

// WordParser DOCX解析器
type WordParser struct{}

func (p *WordParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return []Section{{SourceID: filename, Content: textBuilder.String()}}, nil
}

// ExcelParser XLSX解析器，每个工作表作为一段
type ExcelParser struct{}

func (p *ExcelParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}
	defer ss.Close()

	var sections []Section
	for _, sheet := range ss.Sheets() {
		var textBuilder strings.Builder
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		if strings.TrimSpace(textBuilder.String()) == "" {
			continue
		}
		sections = append(sections, Section{
			SourceID: filename + ":" + sheet.Name(),
			Content:  textBuilder.String(),
		})
	}
	return sections, nil
}

// HTMLParser HTML文件解析器
type HTMLParser struct{}

func (p *HTMLParser) Parse(reader io.Reader, filename string) ([]Section, error) {
	text, err := ExtractHTMLText(reader)
	if err != nil {
		return nil, err
	}
	return []Section{{SourceID: filename, Content: text}}, nil
}

// FileParserManager 按MIME类型分发解析器
type FileParserManager struct {
	parsers map[string]FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	text := &TextParser{}
	return &FileParserManager{
		parsers: map[string]FileParser{
			MIMEPDF:           &PDFParser{},
			MIMECSV:           &CSVParser{},
			MIMEText:          text,
			MIMEMarkdown:      text,
			"text/x-markdown": text,
			MIMEHTML:          &HTMLParser{},
			MIMEDocx:          &WordParser{},
			MIMEXlsx:          &ExcelParser{},
		},
	}
}

// normalizeMIME 去掉参数并转小写，如 "text/plain; charset=utf-8" -> "text/plain"
func normalizeMIME(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

// Supports 是否支持该MIME类型
func (m *FileParserManager) Supports(mimeType string) bool {
	_, ok := m.parsers[normalizeMIME(mimeType)]
	return ok
}

// ParseFile 解析磁盘上的文件
func (m *FileParserManager) ParseFile(path, filename, mimeType string) ([]Section, error) {
	parser, ok := m.parsers[normalizeMIME(mimeType)]
	if !ok {
		return nil, m.UnsupportedError(mimeType)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	sections, err := parser.Parse(f, filename)
	if err != nil {
		return nil, err
	}

	out := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s.Content) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NewValidationError("no text content found in " + filename)
	}
	return out, nil
}

// UnsupportedError 不支持的类型，详情中列出可用类型
func (m *FileParserManager) UnsupportedError(mimeType string) *apperrors.AppError {
	return apperrors.NewUnsupportedFileError(mimeType).WithDetails(map[string]interface{}{
		"supported_types": m.SupportedTypes(),
	})
}

// SupportedTypes 返回支持的MIME类型
func (m *FileParserManager) SupportedTypes() []string {
	result := make([]string, 0, len(m.parsers))
	for t := range m.parsers {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}
