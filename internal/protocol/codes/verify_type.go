// Package codes 收录厂商码表：验证方式与门禁事件类型。
// 全部为纯查表，进程启动时装配完成，运行期只读。
// 未知码一律落到 UNKNOWN/OTHER 成员并告警，绝不因固件脏数据中断解码。
package codes

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// 平台统一通行方式（规整记录中的 passMethod）
const (
	PassMethodCard        = 0
	PassMethodFace        = 1
	PassMethodFingerprint = 2
)

// VerifyType 验证方式（协议附录3 数字码）
type VerifyType struct {
	Code       int
	Name       string
	PassMethod int
}

// VerifyTypeUnknown 未知验证方式，统一回落为卡片
var VerifyTypeUnknown = VerifyType{Code: -1, Name: "未知", PassMethod: PassMethodCard}

// 协议数字码 → 验证方式。映射关系与平台通行方式口径保持一致：
// 密码/卡片/声纹→卡片(0)，指纹/掌纹→指纹(2)，人脸/虹膜/混合→人脸(1)。
var verifyTypes = map[int]VerifyType{
	0:  {Code: 0, Name: "密码", PassMethod: PassMethodCard},
	1:  {Code: 1, Name: "指纹", PassMethod: PassMethodFingerprint},
	2:  {Code: 2, Name: "卡片", PassMethod: PassMethodCard},
	3:  {Code: 3, Name: "人脸", PassMethod: PassMethodFace},
	4:  {Code: 4, Name: "掌纹", PassMethod: PassMethodFingerprint},
	5:  {Code: 5, Name: "虹膜", PassMethod: PassMethodFace},
	6:  {Code: 6, Name: "声纹", PassMethod: PassMethodCard},
	15: {Code: 15, Name: "混合验证", PassMethod: PassMethodFace},
}

// VerifyTypeByCode 按协议码查验证方式，未知码返回 VerifyTypeUnknown
func VerifyTypeByCode(code int) VerifyType {
	if vt, ok := verifyTypes[code]; ok {
		return vt
	}
	zap.L().Warn("unknown verify type code", zap.Int("code", code))
	return VerifyTypeUnknown
}

// ParseVerifyType 解析 verifytype 字段为平台通行方式。
// 优先按数字码解析；失败则视为逗号分隔的文本提示（取第一段做关键词匹配），
// 仍不能识别时回落为卡片。此回退链与协议文档约定一致，不得简化。
func ParseVerifyType(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PassMethodCard
	}

	if code, err := strconv.Atoi(s); err == nil {
		if vt, ok := verifyTypes[code]; ok {
			return vt.PassMethod
		}
		zap.L().Warn("unknown verify type code, fallback to card", zap.Int("code", code))
		return PassMethodCard
	}

	// 字符串格式，如 "1,3" 或 "fingerprint,face"：第一段为主验证方式
	first := strings.ToLower(strings.TrimSpace(strings.SplitN(s, ",", 2)[0]))
	switch {
	case strings.Contains(first, "finger") || strings.Contains(first, "指纹"):
		return PassMethodFingerprint
	case strings.Contains(first, "face") || strings.Contains(first, "人脸"):
		return PassMethodFace
	case strings.Contains(first, "card") || strings.Contains(first, "卡片"):
		return PassMethodCard
	case strings.Contains(first, "palm") || strings.Contains(first, "掌纹"):
		return PassMethodFingerprint
	case strings.Contains(first, "iris") || strings.Contains(first, "虹膜"):
		return PassMethodFace
	}

	if code, err := strconv.Atoi(first); err == nil {
		return ParseVerifyType(strconv.Itoa(code))
	}
	zap.L().Warn("unparsable verify type, fallback to card", zap.String("verifytype", raw))
	return PassMethodCard
}
