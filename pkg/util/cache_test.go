package util_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/pkg/util"
)

func TestCacheMiss(t *testing.T) {
	cache := util.NewLRUCache[string](10)
	callCount := 0

	value, err := cache.Get("key1", func() (string, error) {
		callCount++
		return "value1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "value1", value)
	assert.Equal(t, 1, callCount)
}

func TestCacheHit(t *testing.T) {
	cache := util.NewLRUCache[string](10)
	callCount := 0

	cons := func() (string, error) {
		callCount++
		return "value1", nil
	}

	value1, err := cache.Get("key1", cons)
	require.NoError(t, err)
	assert.Equal(t, "value1", value1)

	value2, err := cache.Get("key1", cons)
	require.NoError(t, err)
	assert.Equal(t, "value1", value2)
	assert.Equal(t, 1, callCount)
}

func TestCacheConstructorError(t *testing.T) {
	cache := util.NewLRUCache[string](10)
	expectedErr := errors.New("constructor error")

	value, err := cache.Get("key1", func() (string, error) {
		return "", expectedErr
	})

	assert.ErrorIs(t, err, expectedErr)
	assert.Empty(t, value)
}

func TestCacheEviction(t *testing.T) {
	cache := util.NewLRUCache[int](2)

	for i := 0; i < 3; i++ {
		_, err := cache.Get(fmt.Sprintf("key%d", i), func() (int, error) {
			return i, nil
		})
		require.NoError(t, err)
	}

	rebuilt := false
	value, err := cache.Get("key0", func() (int, error) {
		rebuilt = true
		return 42, nil
	})

	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, 42, value)
}
