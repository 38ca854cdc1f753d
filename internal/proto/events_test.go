package proto

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
)

func TestDecodeServerEvent_RoundTrip(t *testing.T) {
	req := require.New(t)

	ev := &ServerEvent{
		ReceiveMessage: &model.Message{
			Id:             1001,
			ConversationId: 1,
			SenderId:       42,
			Content:        "hello",
			MsgType:        model.MessageTypeText,
			CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		},
	}

	data, err := ev.Encode()
	req.NoError(err)

	decoded, err := DecodeServerEvent(data)
	req.NoError(err)
	req.Equal("receive-message", decoded.Kind())
	req.NotNil(decoded.ReceiveMessage)
	req.Equal(int64(1001), decoded.ReceiveMessage.Id)
	req.Equal("hello", decoded.ReceiveMessage.Content)
}

func TestDecodeServerEvent_RejectsEmptyUnion(t *testing.T) {
	_, err := DecodeServerEvent([]byte(`{}`))
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrUnknownEventKind))
}

func TestDecodeServerEvent_RejectsMultipleVariants(t *testing.T) {
	_, err := DecodeServerEvent([]byte(`{
		"typing": {"conversationId": 1, "userId": 2},
		"userStatusChanged": {"userId": 2, "status": "online"}
	}`))
	require.Error(t, err)
}

func TestDecodeServerEvent_UnknownFieldsIgnored(t *testing.T) {
	// 未知字段不会破坏已知变体的解码
	decoded, err := DecodeServerEvent([]byte(`{
		"typing": {"conversationId": 1, "userId": 2},
		"someFutureField": true
	}`))
	require.NoError(t, err)
	require.Equal(t, "typing", decoded.Kind())
}

func TestDecodeClientPacket_Valid(t *testing.T) {
	req := require.New(t)

	pkt, err := DecodeClientPacket([]byte(`{
		"sendMessage": {
			"tempId": "tmp-1",
			"conversationId": 7,
			"content": "hi",
			"msgType": 1
		}
	}`))
	req.NoError(err)
	req.Equal("send-message", pkt.Kind())
	req.Equal(int64(7), pkt.SendMessage.ConversationId)
}

func TestDecodeClientPacket_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "garbage", data: `not json`},
		{name: "empty union", data: `{}`},
		{name: "missing temp id", data: `{"sendMessage": {"conversationId": 7, "msgType": 1}}`},
		{name: "zero conversation", data: `{"typing": {"conversationId": 0}}`},
		{name: "bad msg type", data: `{"sendMessage": {"tempId": "t", "conversationId": 7, "msgType": 9}}`},
		{name: "empty emoji", data: `{"react": {"messageId": 5, "emoji": ""}}`},
		{name: "edit without content", data: `{"edit": {"messageId": 5, "content": ""}}`},
		{name: "add participant without user", data: `{"addParticipant": {"conversationId": 7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientPacket([]byte(tt.data))
			require.Error(t, err)
			require.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	req := require.New(t)

	raw := []byte(`{"targets":[1,2],"event":{"originNode":"sync-1","typing":{"conversationId":3,"userId":1}}}`)
	decoded, err := DecodeEnvelope(raw)
	req.NoError(err)
	req.Equal([]int64{1, 2}, decoded.Targets)
	req.Equal("sync-1", decoded.Event.OriginNode)
	req.Equal("typing", decoded.Event.Kind())
}

func TestFrameRoundTrip(t *testing.T) {
	req := require.New(t)

	var buf bytes.Buffer
	payload := []byte(`{"heartbeat":{}}`)

	req.NoError(WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	req.NoError(err)
	req.Equal(payload, got)
}

func TestReadFrame_TooLarge(t *testing.T) {
	frame := BuildFrame([]byte("x"))
	// 伪造超限长度
	frame[0] = 0xFF
	frame[1] = 0xFF
	frame[2] = 0xFF
	frame[3] = 0xFF

	_, err := ReadFrame(bytes.NewReader(frame))
	require.Error(t, err)
}
