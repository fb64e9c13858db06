package consume

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/directory"
	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

func newTestDecoder(cards map[string]int64) (*Decoder, *dispatch.MemoryPublisher) {
	pub := dispatch.NewMemoryPublisher()
	d := dispatch.NewDispatcher(pub, nil, nil, zap.NewNop())
	resolver := directory.NewStaticResolver(cards)
	return New(resolver, d, nil, zap.NewNop()), pub
}

// 11字段单钱包流水
const singleWalletLine = "1\t1234567890\t1706584800\t1500\t8500\t55\t0\t1\t20250130\t99\topA"

// 14字段双钱包流水
const dualWalletLine = singleWalletLine + "\t300\t1200\t1001"

func TestDecodeSingleWallet(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	msg, err := dec.DecodeText(singleWalletLine)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindConsumeRecord, msg.Kind)
	require.Len(t, msg.Records, 1)

	rec := msg.Records[0]
	assert.Equal(t, WalletSingle, rec.GetString("walletType"))
	assert.Equal(t, "1234567890", rec.GetString("cardNo"))
	assert.Equal(t, "1500", rec.GetString("posMoney"))
	assert.False(t, rec.Has("subPosMoney"))

	// deviceCode 取首条记录的 cardNo（固件既有口径）
	assert.Equal(t, "1234567890", msg.DeviceCode)
}

func TestDecodeDualWallet(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	msg, err := dec.DecodeText(dualWalletLine)
	require.NoError(t, err)
	rec := msg.Records[0]
	assert.Equal(t, WalletDual, rec.GetString("walletType"))
	assert.Equal(t, "300", rec.GetString("subPosMoney"))
	assert.Equal(t, "1200", rec.GetString("subBalance"))
	assert.Equal(t, "1001", rec.GetString("userPIN"))
}

func TestDecodeBatchLines(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	batch := singleWalletLine + "\n" + dualWalletLine + "\n"
	msg, err := dec.DecodeText(batch)
	require.NoError(t, err)
	require.Len(t, msg.Records, 2)
	assert.Equal(t, WalletSingle, msg.Records[0].GetString("walletType"))
	assert.Equal(t, WalletDual, msg.Records[1].GetString("walletType"))
}

func TestDecodeErrors(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	_, err := dec.DecodeText("")
	assert.ErrorIs(t, err, protocol.ErrEmptyPayload)

	_, err = dec.Decode([]byte{})
	assert.ErrorIs(t, err, protocol.ErrEmptyPayload)
}

func TestProcessMoneyNormalization(t *testing.T) {
	dec, pub := newTestDecoder(map[string]int64{"1234567890": 77})

	msg, err := dec.DecodeText(dualWalletLine)
	require.NoError(t, err)
	require.NoError(t, dec.Process(context.Background(), msg, 3))

	recs := pub.Records(dispatch.TopicConsumeRecord)
	require.Len(t, recs, 1)
	rec := recs[0]

	// 分 → 元，保留两位小数
	assert.Equal(t, 15.00, rec.Data["amount"])
	assert.Equal(t, 85.00, rec.Data["balance"])
	assert.Equal(t, 3.00, rec.Data["subAmount"])
	assert.Equal(t, 12.00, rec.Data["subBalance"])

	assert.Equal(t, int64(77), rec.Data["userId"])
	assert.Equal(t, int64(1706584800), rec.Data["consumeTime"])
	assert.Equal(t, "99", rec.Data["transactionNo"])
	assert.Equal(t, WalletDual, rec.Data["walletType"])
	assert.Equal(t, "1001", rec.Data["userPin"])
}

func TestProcessUnresolvableCardDropped(t *testing.T) {
	// 只有一张卡可解析
	dec, pub := newTestDecoder(map[string]int64{"1234567890": 77})

	unknownCard := strings.Replace(singleWalletLine, "1234567890", "9999999999", 1)
	batch := singleWalletLine + "\n" + unknownCard

	msg, err := dec.DecodeText(batch)
	require.NoError(t, err)

	// 未解析的卡丢弃，不影响批次
	require.NoError(t, dec.Process(context.Background(), msg, 3))
	assert.Len(t, pub.Records(dispatch.TopicConsumeRecord), 1)
}

func TestProcessAllCardsUnresolvable(t *testing.T) {
	dec, pub := newTestDecoder(nil)

	msg, err := dec.DecodeText(singleWalletLine)
	require.NoError(t, err)

	err = dec.Process(context.Background(), msg, 3)
	require.Error(t, err)
	assert.Equal(t, protocol.StatusFailed, msg.Status)
	assert.Empty(t, pub.Records(dispatch.TopicConsumeRecord))
}

func TestProcessMissingMoneyDropped(t *testing.T) {
	dec, pub := newTestDecoder(map[string]int64{"1234567890": 77})

	// posMoney 非数字
	bad := strings.Replace(singleWalletLine, "\t1500\t", "\tabc\t", 1)
	msg, err := dec.DecodeText(bad)
	require.NoError(t, err)

	err = dec.Process(context.Background(), msg, 3)
	require.Error(t, err)
	assert.Empty(t, pub.Records(dispatch.TopicConsumeRecord))
}

func TestValidateEmptyDeviceCode(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	msg, err := dec.DecodeText(singleWalletLine)
	require.NoError(t, err)

	msg.DeviceCode = ""
	assert.False(t, dec.Validate(msg))
	assert.False(t, dec.Validate(nil))
}

func TestBuildResponse(t *testing.T) {
	dec, _ := newTestDecoder(nil)

	frame := dec.BuildResponse(nil, true, "", "")
	require.Len(t, frame, 28)
	assert.Equal(t, byte(0x7E), frame[0])
	assert.Equal(t, byte(0x81), frame[1])
	assert.Equal(t, byte(0x00), frame[2])

	frame = dec.BuildResponse(nil, false, protocol.CodeValidateFailed, "bad")
	require.Len(t, frame, 28)
	assert.Equal(t, byte(0x01), frame[2])
	// 1003 = 0x03EB 小端
	assert.Equal(t, byte(0xEB), frame[3])
	assert.Equal(t, byte(0x03), frame[4])
}
