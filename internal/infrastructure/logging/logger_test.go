package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Env: "production", AppID: "test"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(&Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestExtractLoggerFromContext(t *testing.T) {
	base := zap.NewExample()
	fallback := zap.NewNop()

	ctx := SetLoggerInContext(context.Background(), base)
	assert.Same(t, base, ExtractLoggerFromContext(ctx, fallback))
	assert.Same(t, fallback, ExtractLoggerFromContext(context.Background(), fallback))
	assert.NotNil(t, ExtractLoggerFromContext(context.Background(), nil))
}
