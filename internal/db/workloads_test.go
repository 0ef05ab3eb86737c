package db

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceMetricsParam(t *testing.T) {
	p, err := performanceMetricsParam(nil)
	require.NoError(t, err)
	assert.Nil(t, p, "absent metrics become NULL")

	p, err = performanceMetricsParam("")
	require.NoError(t, err)
	assert.Nil(t, p, "empty string becomes NULL")

	p, err = performanceMetricsParam("None")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, `"None"`, *p)

	p, err = performanceMetricsParam(map[string]any{"fps": 42})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.JSONEq(t, `{"fps": 42}`, *p)
}

func TestRegistryUnknownIHV(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), map[string]string{"STRX": "postgres://strx-host/workloads"})
	defer r.Close()

	_, err := r.Pool(context.Background(), "XYZ")
	assert.Error(t, err)
}

func TestRegistryInvalidURL(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), map[string]string{"STRX": "://not-a-url"})
	defer r.Close()

	_, err := r.Pool(context.Background(), "STRX")
	assert.Error(t, err)
}
