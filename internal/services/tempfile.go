package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/logger"
)

// WithTempFile 将上传内容写入临时文件并调用fn，无论成功失败都会删除临时文件
func WithTempFile(r io.Reader, name string, fn func(path string) error) error {
	f, err := os.CreateTemp("", "rag-upload-*"+filepath.Ext(filepath.Base(name)))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return fn(path)
}
