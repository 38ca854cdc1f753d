package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize 帧头长度（4 字节大端负载长度）
	FrameHeaderSize = 4

	// MaxFrameSize 单帧负载上限
	MaxFrameSize = 1 << 20
)

// WriteFrame 写入一个长度前缀帧
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	header := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame 读取一个长度前缀帧
// 超过 MaxFrameSize 的帧视为协议违规，直接报错由调用方关闭通道
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// BuildFrame 构造完整帧（头 + 负载），用于单次写入
func BuildFrame(payload []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:FrameHeaderSize], uint32(len(payload)))
	copy(frame[FrameHeaderSize:], payload)
	return frame
}
