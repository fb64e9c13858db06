package biometric

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

func newTestDecoder() (*Decoder, *dispatch.MemoryPublisher) {
	pub := dispatch.NewMemoryPublisher()
	dsp := dispatch.NewDispatcher(pub, nil, nil, zap.NewNop())
	dec := New(dsp, nil, zap.NewNop())
	// 固定时钟，时间戳校验可重现
	dec.now = func() time.Time { return time.Unix(1706584800, 0) }
	return dec, pub
}

// frameSpec 二进制测试帧参数
type frameSpec struct {
	header       []byte
	deviceID     uint32
	msgType      byte
	seq          uint16
	userID       uint32
	verifyType   byte
	verifyResult byte
	timestamp    uint32
	bioData      []byte
}

// buildFrame 按线格式拼装测试帧，校验和取四字段加和低16位
func buildFrame(s frameSpec) []byte {
	frame := append([]byte{}, s.header...)
	frame = append(frame, byte(s.deviceID>>24), byte(s.deviceID>>16), byte(s.deviceID>>8), byte(s.deviceID))
	frame = append(frame, s.msgType)
	frame = append(frame, byte(s.seq>>8), byte(s.seq))
	dataLength := len(s.bioData)
	frame = append(frame, byte(dataLength>>8), byte(dataLength))
	frame = append(frame, byte(s.userID>>24), byte(s.userID>>16), byte(s.userID>>8), byte(s.userID))
	frame = append(frame, s.verifyType, s.verifyResult)
	frame = append(frame, byte(s.timestamp>>24), byte(s.timestamp>>16), byte(s.timestamp>>8), byte(s.timestamp))
	frame = append(frame, byte(dataLength>>8), byte(dataLength))
	frame = append(frame, s.bioData...)
	sum := (uint64(s.deviceID) + uint64(s.msgType) + uint64(s.seq) + uint64(s.userID)) & 0xFFFF
	frame = append(frame, byte(sum>>8), byte(sum))
	frame = append(frame, 'O', 'K')
	return frame
}

func defaultSpec() frameSpec {
	return frameSpec{
		header:       headerEntropy,
		deviceID:     1001,
		msgType:      0x01,
		seq:          7,
		userID:       2002,
		verifyType:   1,
		verifyResult: 1,
		timestamp:    1706584700,
		bioData:      []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
}

func TestDecodeBinaryFrame(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)

	assert.Equal(t, protocol.KindBiometricVerify, msg.Kind)
	assert.Equal(t, int64(1001), msg.DeviceID)
	assert.Equal(t, "1001", msg.DeviceCode)
	assert.Equal(t, 7, msg.SeqNo)
	assert.Equal(t, int64(2002), msg.UserID)

	assert.Equal(t, "1", msg.Payload.GetString("verifyType"))
	assert.Equal(t, "1", msg.Payload.GetString("verifyResult"))
	assert.Equal(t, "1706584700", msg.Payload.GetString("timestamp"))

	wantBio := base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.Equal(t, wantBio, msg.Payload.GetString("bioData"))
	assert.Equal(t, "4", msg.Payload.GetString("bioDataLength"))

	// 1001 + 1 + 7 + 2002 = 3011 = 0x0BC3
	assert.Equal(t, "0BC3", msg.Payload.GetString("checksum"))
	assert.Equal(t, "OK", msg.Payload.GetString("endMarker"))
}

func TestDecodeZKTecoHeader(t *testing.T) {
	dec, _ := newTestDecoder()

	spec := defaultSpec()
	spec.header = headerZKTeco
	spec.msgType = 0x02

	msg, err := dec.Decode(buildFrame(spec))
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBiometricRegister, msg.Kind)
	assert.Equal(t, int64(1001), msg.DeviceID)
}

func TestDecodeTextBinaryFrameWithCommaByte(t *testing.T) {
	dec, _ := newTestDecoder()

	// deviceID 44 = 0x2C（逗号字节），文本入口仍须按魔数头走二进制解析
	spec := defaultSpec()
	spec.deviceID = 44

	msg, err := dec.DecodeText(string(buildFrame(spec)))
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBiometricVerify, msg.Kind)
	assert.Equal(t, int64(44), msg.DeviceID)
	assert.Equal(t, "44", msg.DeviceCode)
}

func TestDecodeMsgTypeKinds(t *testing.T) {
	dec, _ := newTestDecoder()

	cases := []struct {
		msgType byte
		kind    protocol.MessageKind
	}{
		{0x01, protocol.KindBiometricVerify},
		{0x02, protocol.KindBiometricRegister},
		{0x03, protocol.KindBiometricDelete},
		{0x04, protocol.KindBiometricUpdate},
		{0x7F, protocol.KindUnknown},
	}
	for _, tc := range cases {
		spec := defaultSpec()
		spec.msgType = tc.msgType
		msg, err := dec.Decode(buildFrame(spec))
		require.NoError(t, err)
		assert.Equal(t, tc.kind, msg.Kind, "msgType 0x%02X", tc.msgType)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	dec, _ := newTestDecoder()

	full := buildFrame(defaultSpec())
	_, err := dec.Decode(full[:10])
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, protocol.ErrEmptyPayload)
}

func TestValidateChecksum(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)
	assert.True(t, dec.Validate(msg))
	assert.Equal(t, protocol.StatusValidated, msg.Status)

	// 篡改帧内 seq 字段，校验和不再匹配
	msg.Payload.Set("seq", "8")
	assert.False(t, dec.Validate(msg))
}

func TestValidateChecksumIgnoresResolvedDeviceID(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)

	// 目录解析后 DeviceID 换成内部ID，校验和仍按帧原始字段比对
	msg.DeviceID = 98765
	assert.True(t, dec.Validate(msg))
}

func TestValidateFutureTimestamp(t *testing.T) {
	dec, _ := newTestDecoder()

	spec := defaultSpec()
	// 超前10分钟，超过容许偏差
	spec.timestamp = uint32(dec.now().Add(10 * time.Minute).Unix())
	msg, err := dec.Decode(buildFrame(spec))
	require.NoError(t, err)
	assert.False(t, dec.Validate(msg))

	// 超前1分钟在容许范围内
	spec.timestamp = uint32(dec.now().Add(time.Minute).Unix())
	msg, err = dec.Decode(buildFrame(spec))
	require.NoError(t, err)
	assert.True(t, dec.Validate(msg))
}

func TestDecodeJSON(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.DecodeText(`{"deviceId": 1001, "userId": 2002, "verifyResult": 1, "score": 98.5}`)
	require.NoError(t, err)

	assert.Equal(t, protocol.KindBiometricVerify, msg.Kind)
	assert.Equal(t, int64(1001), msg.DeviceID)
	assert.Equal(t, "1001", msg.DeviceCode)
	assert.Equal(t, int64(2002), msg.UserID)
	assert.Equal(t, "98.5", msg.Payload.GetString("score"))

	// verifyType 缺失时不写入，而非补零
	assert.False(t, msg.Payload.Has("verifyType"))
	assert.True(t, dec.Validate(msg))
}

func TestDecodeJSONWithoutDeviceID(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.DecodeText(`{"userId": 2002}`)
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", msg.DeviceCode)
	assert.True(t, dec.Validate(msg))
}

func TestDecodeJSONErrors(t *testing.T) {
	dec, _ := newTestDecoder()

	_, err := dec.DecodeText(`{bad json`)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	_, err = dec.DecodeText(`{}`)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestDecodeCSV(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.DecodeText("1001,2,5,2002,1,1")
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBiometricRegister, msg.Kind)
	assert.Equal(t, int64(1001), msg.DeviceID)
	assert.Equal(t, 5, msg.SeqNo)
	assert.Equal(t, int64(2002), msg.UserID)
	// CSV 无时间戳字段，取接收时刻
	assert.Equal(t, "1706584800", msg.Payload.GetString("timestamp"))

	_, err = dec.DecodeText("1001,2,5")
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	_, err = dec.DecodeText("abc,2,5,2002,1,1")
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestProcessDispatchesEvent(t *testing.T) {
	dec, pub := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)
	require.NoError(t, dec.Process(context.Background(), msg, 42))

	recs := pub.Records(dispatch.TopicBiometricEvent)
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, int64(42), rec.DeviceID)
	assert.Equal(t, string(protocol.KindBiometricVerify), rec.Data["operation"])
	assert.Equal(t, int64(2002), rec.Data["userId"])
	assert.Equal(t, 7, rec.Data["seq"])
	// 验证方式1=指纹 → 通行方式2
	assert.Equal(t, 2, rec.Data["verifyType"])
	assert.Equal(t, "指纹", rec.Data["verifyTypeName"])
	assert.Equal(t, 1, rec.Data["verifyResult"])
	assert.Equal(t, int64(1706584700), rec.Timestamp)
	assert.Equal(t, protocol.StatusProcessed, msg.Status)
}

func TestProcessChecksummedFrameWithInternalDeviceID(t *testing.T) {
	dec, pub := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)
	require.True(t, dec.Validate(msg))

	// 内部设备ID与帧内 deviceId 不同，复验不得因此失败
	require.NoError(t, dec.Process(context.Background(), msg, 42))

	recs := pub.Records(dispatch.TopicBiometricEvent)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(42), recs[0].DeviceID)
	assert.Equal(t, "1001", recs[0].DeviceCode)
}

func TestProcessValidationFailure(t *testing.T) {
	dec, pub := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)
	msg.Payload.Set("seq", "999")

	err = dec.Process(context.Background(), msg, 0)
	assert.ErrorIs(t, err, protocol.ErrValidationFailed)
	assert.Equal(t, protocol.StatusFailed, msg.Status)
	assert.Empty(t, pub.Records(dispatch.TopicBiometricEvent))
}

func TestBuildResponse(t *testing.T) {
	dec, _ := newTestDecoder()

	msg, err := dec.Decode(buildFrame(defaultSpec()))
	require.NoError(t, err)

	// 1001 + 7 = 1008 = 0x03F0
	frame := string(dec.BuildResponse(msg, true, "", ""))
	assert.Equal(t, "RESP,1001,0x80,7,true,,,1706584800000,03F0", frame)

	frame = string(dec.BuildResponse(msg, false, protocol.CodeValidateFailed, "bad frame"))
	assert.Equal(t, "RESP,1001,0x81,7,false,1003,bad frame,1706584800000,03F0", frame)

	assert.Equal(t, string(errorFrame), string(dec.BuildResponse(nil, true, "", "")))
}

func TestIdentify(t *testing.T) {
	dec, _ := newTestDecoder()
	pt, mfr, ver := dec.Identify()
	assert.Equal(t, ProtocolType, pt)
	assert.Equal(t, Manufacturer, mfr)
	assert.Equal(t, Version, ver)
}
