package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/kafka"
	"github.com/aihub/rag-backend/internal/metrics"
	"github.com/aihub/rag-backend/internal/services"
)

func testConfig() *config.Config {
	return &config.Config{
		Knowledge: config.KnowledgeConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			TopK:           3,
			Collection:     "rag-documents",
			InventoryLimit: 5,
		},
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
		AI:          config.AIConfig{RequestTimeout: time.Second},
	}
}

func TestInvokeRequiresContainer(t *testing.T) {
	Container = nil
	err := Invoke(func() {})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	container, err := Build(testConfig())
	require.NoError(t, err)
	assert.Same(t, container, Container)

	err = Invoke(func(f *services.Factory, m *apperrors.ErrorMonitor) {
		assert.NotNil(t, f)
		m.Stop()
	})
	assert.NoError(t, err)

	_, err = Build(nil)
	assert.Error(t, err)
}

func TestRegisterProviders(t *testing.T) {
	container := InitContainer()
	require.NoError(t, RegisterProviders(container, testConfig()))

	err := container.Invoke(func(
		f *services.Factory,
		c *metrics.Collector,
		monitor *apperrors.ErrorMonitor,
		translator *apperrors.ErrorTranslator,
		p kafka.EventPublisher,
	) {
		assert.NotNil(t, f)
		assert.NotNil(t, c)
		assert.NotNil(t, translator)
		assert.IsType(t, kafka.NoopPublisher{}, p)
		monitor.Stop()
	})
	require.NoError(t, err)
}

func TestRegisterProviders_NilConfig(t *testing.T) {
	assert.Error(t, RegisterProviders(InitContainer(), nil))
}
