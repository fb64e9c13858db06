package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/storage"
)

// RegisterDeviceRoutes 注册只读设备目录路由（运维侧）。
// repo 为 nil（未接数据库）时不注册。
func RegisterDeviceRoutes(r *gin.Engine, repo storage.DeviceRepo, logger *zap.Logger) {
	if r == nil || repo == nil {
		return
	}

	r.GET("/devices", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		if offset < 0 {
			offset = 0
		}

		devices, err := repo.ListDevices(c.Request.Context(), limit, offset)
		if err != nil {
			logger.Error("device list query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "device list query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
	})

	r.GET("/devices/:code", func(c *gin.Context) {
		device, err := repo.GetDeviceByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusOK, device)
	})
}
