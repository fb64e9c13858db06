package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/storage/models"
)

// stubDeviceRepo 内存设备目录
type stubDeviceRepo struct {
	devices []models.Device
}

func (r *stubDeviceRepo) EnsureDevice(_ context.Context, deviceCode, protocolType string) (*models.Device, error) {
	for i := range r.devices {
		if r.devices[i].DeviceCode == deviceCode {
			return &r.devices[i], nil
		}
	}
	d := models.Device{ID: int64(len(r.devices) + 1), DeviceCode: deviceCode, ProtocolType: protocolType}
	r.devices = append(r.devices, d)
	return &d, nil
}

func (r *stubDeviceRepo) TouchDeviceLastSeen(context.Context, string, time.Time) error { return nil }

func (r *stubDeviceRepo) GetDeviceByCode(_ context.Context, deviceCode string) (*models.Device, error) {
	for i := range r.devices {
		if r.devices[i].DeviceCode == deviceCode {
			return &r.devices[i], nil
		}
	}
	return nil, fmt.Errorf("device %s not found", deviceCode)
}

func (r *stubDeviceRepo) UpdateDeviceStatus(context.Context, string, string) error { return nil }

func (r *stubDeviceRepo) ListDevices(_ context.Context, limit, offset int) ([]models.Device, error) {
	if offset >= len(r.devices) {
		return nil, nil
	}
	end := offset + limit
	if end > len(r.devices) {
		end = len(r.devices)
	}
	return r.devices[offset:end], nil
}

func TestDeviceRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	repo := &stubDeviceRepo{devices: []models.Device{
		{ID: 1, DeviceCode: "AC-01", ProtocolType: "ACCESS_ENTROPY_V4_8", Status: "ONLINE"},
		{ID: 2, DeviceCode: "AT-01", ProtocolType: "ATTENDANCE_ENTROPY_V4_0", Status: "OFFLINE"},
	}}

	engine := gin.New()
	RegisterDeviceRoutes(engine, repo, zap.NewNop())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AC-01")
	assert.Contains(t, w.Body.String(), "AT-01")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices?limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "AC-01")
	assert.Contains(t, w.Body.String(), "AT-01")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/AC-01", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ACCESS_ENTROPY_V4_8")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceRoutesNilRepo(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	RegisterDeviceRoutes(engine, nil, zap.NewNop())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
