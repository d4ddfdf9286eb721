package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"audio-frames/internal/types"
)

// ErrDecode 缓冲区长度与布局不符
var ErrDecode = errors.New("帧解码失败")

// EncodeFrame 把一帧各频带数值按布局写成 BytesPerFrame 字节
//
// 二进制格式（紧密排列，小端定宽）:
//   - 频带按清单顺序拼接，偏移见 Layout.Entries
//   - 每个元素按频带数据类型写入: float32/float64/int16/int32/uint8
//
// 整数类型会先四舍五入，超出范围或为 NaN 时返回错误，不做截断。
func (l *Layout) EncodeFrame(values map[string][]float64) ([]byte, error) {
	buf := make([]byte, l.BytesPerFrame)
	if err := l.EncodeFrameInto(buf, values); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeFrameInto 与 EncodeFrame 相同，但写入调用方提供的缓冲区
func (l *Layout) EncodeFrameInto(dst []byte, values map[string][]float64) error {
	if len(dst) < l.BytesPerFrame {
		return fmt.Errorf("%w: 缓冲区过小: got %d bytes, need %d bytes", types.ErrValidation, len(dst), l.BytesPerFrame)
	}
	for name := range values {
		if _, ok := l.index[name]; !ok {
			return fmt.Errorf("%w: 未知频带 %q", types.ErrValidation, name)
		}
	}

	for i, band := range l.Bands {
		vals, ok := values[band.Name]
		if !ok {
			return fmt.Errorf("%w: 缺少频带 %q", types.ErrValidation, band.Name)
		}
		if len(vals) != band.ElementCount {
			return fmt.Errorf("%w: 频带 %q 需要 %d 个值, got %d", types.ErrValidation, band.Name, band.ElementCount, len(vals))
		}

		offset := l.Entries[i].Offset
		for j, v := range vals {
			pos := offset + j*band.ElementByteWidth
			if err := putElement(dst[pos:pos+band.ElementByteWidth], band.DataType, v); err != nil {
				return fmt.Errorf("%w: 频带 %q 第 %d 个值: %s", types.ErrValidation, band.Name, j, err)
			}
		}
	}
	return nil
}

// EncodeFrames 顺序编码多帧，结果长度为 len(frames) × BytesPerFrame
func (l *Layout) EncodeFrames(frames []map[string][]float64) ([]byte, error) {
	buf := make([]byte, len(frames)*l.BytesPerFrame)
	for i, values := range frames {
		start := i * l.BytesPerFrame
		if err := l.EncodeFrameInto(buf[start:start+l.BytesPerFrame], values); err != nil {
			return nil, fmt.Errorf("帧 %d: %w", i, err)
		}
	}
	return buf, nil
}

// DecodeFrame 解码一帧的全部频带
func (l *Layout) DecodeFrame(data []byte) (map[string][]float64, error) {
	if len(data) != l.BytesPerFrame {
		return nil, fmt.Errorf("%w: got %d bytes, need %d bytes", ErrDecode, len(data), l.BytesPerFrame)
	}
	all, _ := l.Select(nil)
	return l.decodeSelected(data, all), nil
}

// DecodeBand 只解码一帧中指定的频带：取 [offset, offset+width) 并按元素类型解释
func (l *Layout) DecodeBand(data []byte, name string) ([]float64, error) {
	i, ok := l.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: 未知频带 %q", types.ErrValidation, name)
	}
	entry := l.Entries[i]
	if len(data) < entry.Offset+entry.Width {
		return nil, fmt.Errorf("%w: 频带 %q 需要 %d bytes, got %d", ErrDecode, name, entry.Offset+entry.Width, len(data))
	}
	return decodeBand(data[entry.Offset:entry.Offset+entry.Width], l.Bands[i]), nil
}

// DecodeFrames 把整块数据解码为逐帧数值，selected 为 Select 返回的频带下标
func (l *Layout) DecodeFrames(data []byte, selected []int) ([]map[string][]float64, error) {
	if l.BytesPerFrame == 0 || len(data)%l.BytesPerFrame != 0 {
		return nil, fmt.Errorf("%w: %d bytes 不是帧长 %d 的整数倍", ErrDecode, len(data), l.BytesPerFrame)
	}
	for _, i := range selected {
		if i < 0 || i >= len(l.Bands) {
			return nil, fmt.Errorf("%w: 频带下标 %d 越界", ErrDecode, i)
		}
	}

	count := len(data) / l.BytesPerFrame
	out := make([]map[string][]float64, count)
	for f := 0; f < count; f++ {
		start := f * l.BytesPerFrame
		out[f] = l.decodeSelected(data[start:start+l.BytesPerFrame], selected)
	}
	return out, nil
}

// decodeSelected 调用方保证 frame 长度正确
func (l *Layout) decodeSelected(frame []byte, selected []int) map[string][]float64 {
	values := make(map[string][]float64, len(selected))
	for _, i := range selected {
		entry := l.Entries[i]
		values[entry.Band] = decodeBand(frame[entry.Offset:entry.Offset+entry.Width], l.Bands[i])
	}
	return values
}

func decodeBand(raw []byte, band types.BandDef) []float64 {
	vals := make([]float64, band.ElementCount)
	for j := range vals {
		pos := j * band.ElementByteWidth
		vals[j] = getElement(raw[pos:pos+band.ElementByteWidth], band.DataType)
	}
	return vals
}

// putElement 写入单个元素（小端）
func putElement(b []byte, t types.DataType, v float64) error {
	switch t {
	case types.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return nil
	case types.Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return nil
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s 不能表示 %v", t, v)
	}
	r := math.Round(v)

	switch t {
	case types.Int16:
		if r < math.MinInt16 || r > math.MaxInt16 {
			return fmt.Errorf("%v 超出 int16 范围", v)
		}
		binary.LittleEndian.PutUint16(b, uint16(int16(r)))
	case types.Int32:
		if r < math.MinInt32 || r > math.MaxInt32 {
			return fmt.Errorf("%v 超出 int32 范围", v)
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(r)))
	case types.Uint8:
		if r < 0 || r > math.MaxUint8 {
			return fmt.Errorf("%v 超出 uint8 范围", v)
		}
		b[0] = uint8(r)
	default:
		return fmt.Errorf("不支持的数据类型 %q", t)
	}
	return nil
}

// getElement 读取单个元素（小端）
func getElement(b []byte, t types.DataType) float64 {
	switch t {
	case types.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case types.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case types.Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case types.Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case types.Uint8:
		return float64(b[0])
	}
	return 0
}
