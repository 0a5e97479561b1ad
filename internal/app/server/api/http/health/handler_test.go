package health

import (
	"context"
	"errors"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func TestHandler_healthCheck(t *testing.T) {
	tests := []struct {
		name           string
		expectedStatus string
	}{
		{
			name:           "health check returns OK",
			expectedStatus: "OK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			log := slog.Default()
			middleware := huma.Middlewares{}
			handler := NewHandler(&fakePinger{}, log, middleware)
			ctx := context.Background()
			input := &Input{}

			// Act
			output, err := handler.healthCheck(ctx, input)

			// Assert
			assert.NoError(t, err)
			assert.NotNil(t, output)
			assert.Equal(t, tt.expectedStatus, output.Body.Status)
		})
	}
}

func TestHandler_dbCheck(t *testing.T) {
	// Arrange
	handler := NewHandler(&fakePinger{}, slog.Default(), huma.Middlewares{})

	// Act
	output, err := handler.dbCheck(context.Background(), &Input{})

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "OK", output.Body.Status)
}

func TestHandler_dbCheck_Unavailable(t *testing.T) {
	// Arrange
	handler := NewHandler(&fakePinger{err: errors.New("connection refused")}, slog.Default(), huma.Middlewares{})

	// Act
	output, err := handler.dbCheck(context.Background(), &Input{})

	// Assert
	assert.Error(t, err)
	assert.Nil(t, output)
}

func TestNewHandler(t *testing.T) {
	// Arrange
	log := slog.Default()
	middleware := huma.Middlewares{}

	// Act
	handler := NewHandler(&fakePinger{}, log, middleware)

	// Assert
	assert.NotNil(t, handler)
	assert.NotNil(t, handler.log)
	assert.NotNil(t, handler.middleware)
}
