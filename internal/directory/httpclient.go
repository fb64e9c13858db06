package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPUserDirectory 用户目录服务客户端：缓存全部未命中时的最后兜底。
// GET {base}/api/v1/consume/user/quick?queryType=cardNumber&queryValue={card}
type HTTPUserDirectory struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewHTTPUserDirectory 创建用户目录客户端；client 为 nil 时使用 5s 超时默认值
func NewHTTPUserDirectory(client *http.Client, baseURL string, logger *zap.Logger) *HTTPUserDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPUserDirectory{client: client, baseURL: baseURL, logger: logger}
}

// quickUserResponse 用户目录响应体
type quickUserResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		UserID int64 `json:"userId"`
	} `json:"data"`
}

// ResolveUserIDByCard 调用用户目录按卡号查用户；任何错误均按未找到处理
func (d *HTTPUserDirectory) ResolveUserIDByCard(ctx context.Context, cardNumber string) (int64, bool) {
	if cardNumber == "" || d.baseURL == "" {
		return 0, false
	}

	reqURL := fmt.Sprintf("%s/api/v1/consume/user/quick?queryType=cardNumber&queryValue=%s",
		d.baseURL, url.QueryEscape(cardNumber))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		d.logger.Warn("build user directory request failed", zap.Error(err))
		return 0, false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("user directory call failed",
			zap.String("card", cardNumber), zap.Error(err))
		return 0, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("user directory non-200 response",
			zap.String("card", cardNumber), zap.Int("status", resp.StatusCode))
		return 0, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.logger.Warn("read user directory response failed", zap.Error(err))
		return 0, false
	}

	var out quickUserResponse
	if err := json.Unmarshal(body, &out); err != nil {
		d.logger.Warn("decode user directory response failed", zap.Error(err))
		return 0, false
	}
	if out.Code != 0 || out.Data.UserID <= 0 {
		d.logger.Debug("card not found in user directory",
			zap.String("card", cardNumber), zap.String("msg", out.Msg))
		return 0, false
	}
	return out.Data.UserID, true
}
