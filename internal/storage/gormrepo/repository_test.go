package gormrepo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceUpsertRefreshesLastSeen(t *testing.T) {
	up := deviceUpsert()

	require.Len(t, up.Columns, 1)
	assert.Equal(t, "device_code", up.Columns[0].Name)

	assigned := make(map[string]bool, len(up.DoUpdates))
	for _, a := range up.DoUpdates {
		assigned[a.Column.Name] = true
	}
	// 冲突更新必须同时推进 last_seen_at，否则缓存未命中的设备永不刷新在线水位
	assert.True(t, assigned["last_seen_at"])
	assert.True(t, assigned["updated_at"])
}
