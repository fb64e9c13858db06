package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// deviceTimeLayout 设备上报时间格式：XXXX-XX-XX XX:XX:XX
const deviceTimeLayout = "2006-01-02 15:04:05"

// deviceLocation 设备时区。tzdata 缺失时退化为固定 UTC+8。
var deviceLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// ParseDeviceTime 解析设备时间字符串为 Unix 秒
func ParseDeviceTime(s string) (int64, error) {
	t, err := time.ParseInLocation(deviceTimeLayout, s, deviceLocation)
	if err != nil {
		return 0, fmt.Errorf("parse device time %q: %w", s, err)
	}
	return t.Unix(), nil
}

// BinaryAck 构造定长二进制应答帧（小端）：
// 协议头 + 1字节结果(0x00成功/0x01失败) + 失败时2字节错误码 + 补零到 size。
// 错误码非数字时无法编帧，返回空帧由调用方记录。
func BinaryAck(header []byte, size int, success bool, errCode string) []byte {
	buf := make([]byte, 0, size)
	buf = append(buf, header...)
	if success {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		if errCode != "" {
			code, err := strconv.Atoi(errCode)
			if err != nil {
				return []byte{}
			}
			buf = binary.LittleEndian.AppendUint16(buf, uint16(code))
		}
	}
	for len(buf) < size {
		buf = append(buf, 0x00)
	}
	return buf
}
