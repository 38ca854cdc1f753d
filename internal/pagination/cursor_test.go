package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
)

func TestCursor_RoundTrip(t *testing.T) {
	req := require.New(t)

	c := Cursor{At: 1735689600123, Id: 4567}
	encoded := Encode(c)

	decoded, err := Decode(encoded)
	req.NoError(err)
	req.Equal(c, decoded)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	require.True(t, c.Zero())
}

func TestDecode_Invalid(t *testing.T) {
	tests := []string{
		"!!!not-base64!!!",
		"bm90LWEtY3Vyc29y", // "not-a-cursor"
		"MTIzNA",           // "1234" 缺少分隔符
		"YTpi",             // "a:b" 非数字
	}

	for _, s := range tests {
		_, err := Decode(s)
		require.Error(t, err, "cursor %q should be rejected", s)
		require.True(t, apperrors.Is(err, apperrors.ErrInvalidCursor))
	}
}

func TestCursor_Before(t *testing.T) {
	c := Cursor{At: 100, Id: 50}

	require.True(t, c.Before(99, 999))
	require.True(t, c.Before(100, 49))
	require.False(t, c.Before(100, 50))
	require.False(t, c.Before(100, 51))
	require.False(t, c.Before(101, 1))
}

func TestFromMessage(t *testing.T) {
	at := time.UnixMicro(1735689600123456).UTC()
	m := &model.Message{Id: 7, CreatedAt: at}

	c := FromMessage(m)
	require.Equal(t, int64(1735689600123456), c.At)
	require.Equal(t, int64(7), c.Id)
	require.Equal(t, at, c.Time().UTC())
}

func TestCursor_SubMillisecondPrecision(t *testing.T) {
	req := require.New(t)

	// 同一毫秒内相差若干微秒的两条消息，游标必须能区分先后，
	// 否则较早的那条会落在下一页的谓词之外
	later := time.Date(2026, 3, 1, 12, 0, 0, 500900000, time.UTC)
	earlier := later.Add(-800 * time.Microsecond)

	c := FromMessage(&model.Message{Id: 20, CreatedAt: later})
	req.True(c.Before(earlier.UnixMicro(), 10))
	req.False(c.Before(later.UnixMicro(), 20))
	req.Equal(later.UnixMicro(), c.Time().UnixMicro())
}
