package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileParser_CSVRows(t *testing.T) {
	path := writeTemp(t, "people.csv", "name,city\nAlice,Paris\nBob, Berlin\n")

	sections, err := NewFileParserManager().ParseFile(path, "people.csv", "text/csv")
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, "people.csv:1", sections[0].SourceID)
	assert.Equal(t, "name: Alice\ncity: Paris", sections[0].Content)
	assert.Equal(t, "people.csv:2", sections[1].SourceID)
	assert.Equal(t, "name: Bob\ncity: Berlin", sections[1].Content)
}

func TestFileParser_PlainTextWithCharset(t *testing.T) {
	path := writeTemp(t, "upload-123", "plain text body")

	sections, err := NewFileParserManager().ParseFile(path, "notes.txt", "text/plain; charset=utf-8")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "notes.txt", sections[0].SourceID)
	assert.Equal(t, "plain text body", sections[0].Content)
}

func TestFileParser_HTML(t *testing.T) {
	path := writeTemp(t, "page.html", `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Header</h1><script>var x = 1;</script><p>First   paragraph.</p><p>Second</p></body></html>`)

	sections, err := NewFileParserManager().ParseFile(path, "page.html", "text/html")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Header\nFirst paragraph.\nSecond", sections[0].Content)
}

func TestFileParser_Unsupported(t *testing.T) {
	path := writeTemp(t, "image.png", "png")
	m := NewFileParserManager()

	assert.False(t, m.Supports("image/png"))
	assert.True(t, m.Supports("application/pdf"))

	_, err := m.ParseFile(path, "image.png", "image/png")
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeInvalidFileFormat, appErr.Code)

	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	types := details["supported_types"].([]string)
	assert.Equal(t, m.SupportedTypes(), types)
	assert.Contains(t, types, MIMEPDF)
	assert.Contains(t, types, MIMECSV)
	assert.NotContains(t, types, "image/png")
}

func TestFileParser_EmptyContent(t *testing.T) {
	path := writeTemp(t, "empty.txt", "   \n")
	_, err := NewFileParserManager().ParseFile(path, "empty.txt", "text/plain")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestWebLoader_ExtractsBodyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div>Go is <b>fun</b></div><noscript>enable js</noscript></body></html>`))
	}))
	defer srv.Close()

	text, err := NewWebLoader(time.Second).Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Go is fun", text)
	assert.False(t, strings.Contains(text, "enable js"))
}

func TestWebLoader_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewWebLoader(time.Second).Load(context.Background(), srv.URL)
	assert.Error(t, err)
}
