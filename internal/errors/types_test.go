package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorIsMatchesByCode(t *testing.T) {
	storeErr := StoreUnavailable("upsert", io.EOF)
	wrapped := IndexingFailed("manual-input", storeErr)
	outer := fmt.Errorf("handler: %w", wrapped)

	assert.True(t, stderrors.Is(outer, ErrIndexingFailed))
	assert.True(t, stderrors.Is(outer, ErrStoreUnavailable))
	assert.True(t, stderrors.Is(outer, io.EOF))
	assert.False(t, stderrors.Is(outer, ErrDimensionMismatch))
}

func TestHTTPCodes(t *testing.T) {
	cases := map[*AppError]int{
		NewValidationError("bad"):        http.StatusBadRequest,
		StoreUnavailable("search", nil):  http.StatusServiceUnavailable,
		DimensionMismatch(3072, 1536):    http.StatusConflict,
		IndexingFailed("x", nil):         http.StatusInternalServerError,
		RetrievalFailed(nil):             http.StatusBadGateway,
		GenerationFailed(nil):            http.StatusBadGateway,
		NewUnsupportedFileError("a/b"):   http.StatusUnsupportedMediaType,
	}
	for appErr, code := range cases {
		assert.Equal(t, code, appErr.HTTPCode, string(appErr.Code))
	}
}

func TestGetAppErrorFindsWrapped(t *testing.T) {
	err := fmt.Errorf("ctx: %w", RetrievalFailed(io.ErrUnexpectedEOF))
	appErr := GetAppError(err)
	assert.Equal(t, ErrCodeRetrievalFailed, appErr.Code)

	plain := GetAppError(io.EOF)
	assert.Equal(t, ErrCodeInternalServer, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.HTTPCode)
	assert.ErrorIs(t, plain, io.EOF)
}

func TestTranslateValidationErrors(t *testing.T) {
	type req struct {
		Text string `validate:"required,min=10"`
	}
	err := validator.New().Struct(req{Text: "short"})
	require.Error(t, err)

	appErr := NewErrorTranslator().Translate(err)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.Equal(t, "Text must be at least 10 characters", appErr.Message)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPCode)
}

func TestTranslatePrefersStoreRootCauses(t *testing.T) {
	tr := NewErrorTranslator()
	down := StoreUnavailable("upsert", io.EOF)

	cases := []struct {
		name string
		err  error
		code ErrorCode
		http int
	}{
		{"indexing over store", IndexingFailed("manual-input", down), ErrCodeStoreUnavailable, http.StatusServiceUnavailable},
		{"retrieval over store", fmt.Errorf("query: %w", RetrievalFailed(StoreUnavailable("search", io.EOF))), ErrCodeStoreUnavailable, http.StatusServiceUnavailable},
		{"bare store", StoreUnavailable("purge", io.EOF), ErrCodeStoreUnavailable, http.StatusServiceUnavailable},
		{"indexing over dimension", IndexingFailed("doc", DimensionMismatch(3072, 1536)), ErrCodeDimensionMismatch, http.StatusConflict},
		{"indexing over embedder", IndexingFailed("doc", io.ErrUnexpectedEOF), ErrCodeIndexingFailed, http.StatusInternalServerError},
		{"generation", GenerationFailed(io.EOF), ErrCodeGenerationFailed, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			appErr := tr.Translate(tc.err)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.http, appErr.HTTPCode)
		})
	}
}

func TestErrorMonitorRecordsStats(t *testing.T) {
	em := NewErrorMonitor(prometheus.NewRegistry())
	defer em.Stop()

	em.RecordError(StoreUnavailable("search", nil), "/api/chat", 20*time.Millisecond)
	em.RecordError(StoreUnavailable("search", nil), "/api/chat", 40*time.Millisecond)
	em.RecordError(NewValidationError("bad"), "/api/index-text", time.Millisecond)
	em.RecordError(nil, "/api/chat", time.Millisecond)

	top := em.GetTopErrors(1)
	require.Len(t, top, 1)
	assert.Equal(t, string(ErrCodeStoreUnavailable), top[0].Code)
	assert.Equal(t, int64(2), top[0].Count)
	assert.Equal(t, 30*time.Millisecond, top[0].AvgResponse)

	em.cleanupOldStats(time.Now().Add(time.Hour))
	assert.Empty(t, em.GetStats())
}
