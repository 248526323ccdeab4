package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/imgmatch/core"
	"github.com/stretchr/testify/assert"
)

func TestCacheFailure(t *testing.T) {
	assert.NoError(t, CacheFailure(nil))

	miss := fmt.Errorf("lookup: %w", ErrNotFound)
	assert.Same(t, miss, CacheFailure(miss))

	diskFull := errors.New("no space left on device")
	err := CacheFailure(diskFull)
	assert.ErrorIs(t, err, core.ErrCache)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, core.KindCache, core.KindOf(err))

	assert.Same(t, err, CacheFailure(err), "already tagged errors are not wrapped twice")
}
