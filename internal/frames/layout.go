// Package frames 帧数据容器格式：频带布局、定宽二进制编解码、分块规划与确定性指纹。
// 包内函数都是纯函数，不做任何 I/O。
package frames

import (
	"fmt"

	"audio-frames/internal/types"
)

// Layout 由有序频带拼接得到的帧布局
type Layout struct {
	Bands         []types.BandDef
	Entries       []types.LayoutEntry
	BytesPerFrame int
	index         map[string]int
}

// NewLayout 校验频带定义并按输入顺序从 0 开始分配字节偏移
func NewLayout(bands []types.BandDef) (*Layout, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个频带", types.ErrValidation)
	}

	l := &Layout{
		Bands:   make([]types.BandDef, 0, len(bands)),
		Entries: make([]types.LayoutEntry, 0, len(bands)),
		index:   make(map[string]int, len(bands)),
	}

	offset := 0
	for i, band := range bands {
		normalized, err := normalizeBand(band)
		if err != nil {
			return nil, fmt.Errorf("%w: 频带 #%d %q: %s", types.ErrValidation, i, band.Name, err)
		}
		if _, dup := l.index[normalized.Name]; dup {
			return nil, fmt.Errorf("%w: 频带名称重复: %q", types.ErrValidation, normalized.Name)
		}

		width := normalized.ByteWidth()
		l.index[normalized.Name] = i
		l.Bands = append(l.Bands, normalized)
		l.Entries = append(l.Entries, types.LayoutEntry{
			Band:   normalized.Name,
			Offset: offset,
			Width:  width,
		})
		offset += width
	}
	l.BytesPerFrame = offset

	return l, nil
}

// BytesPerFrame 计算每帧字节数 Σ(element_count × element_byte_width)
func BytesPerFrame(bands []types.BandDef) (int, error) {
	l, err := NewLayout(bands)
	if err != nil {
		return 0, err
	}
	return l.BytesPerFrame, nil
}

// Entry 按名称查找布局项
func (l *Layout) Entry(name string) (types.LayoutEntry, types.BandDef, bool) {
	i, ok := l.index[name]
	if !ok {
		return types.LayoutEntry{}, types.BandDef{}, false
	}
	return l.Entries[i], l.Bands[i], true
}

// Select 把频带名称列表解析为布局下标，names 为空时返回全部频带
func (l *Layout) Select(names []string) ([]int, error) {
	if len(names) == 0 {
		all := make([]int, len(l.Bands))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	selected := make([]int, 0, len(names))
	seen := make(map[int]bool, len(names))
	for _, name := range names {
		i, ok := l.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: 未知频带 %q", types.ErrValidation, name)
		}
		if !seen[i] {
			seen[i] = true
			selected = append(selected, i)
		}
	}
	return selected, nil
}

// normalizeBand 校验单个频带并补全可推断的字段
func normalizeBand(b types.BandDef) (types.BandDef, error) {
	if b.Name == "" {
		return b, fmt.Errorf("名称不能为空")
	}
	if b.ElementCount <= 0 {
		return b, fmt.Errorf("element_count 必须大于 0")
	}
	if b.ElementByteWidth <= 0 {
		return b, fmt.Errorf("element_byte_width 必须大于 0")
	}

	if b.DataType == "" {
		b.DataType = types.DataTypeForWidth(b.ElementByteWidth)
		if b.DataType == "" {
			return b, fmt.Errorf("无法从宽度 %d 推断数据类型", b.ElementByteWidth)
		}
	}
	if w := b.DataType.Width(); w == 0 {
		return b, fmt.Errorf("不支持的数据类型 %q", b.DataType)
	} else if w != b.ElementByteWidth {
		return b, fmt.Errorf("数据类型 %s 宽度为 %d，与 element_byte_width %d 不符", b.DataType, w, b.ElementByteWidth)
	}

	switch b.Kind {
	case "":
		if b.ElementCount == 1 {
			b.Kind = types.BandScalar
		} else {
			b.Kind = types.BandVector
		}
	case types.BandScalar:
		if b.ElementCount != 1 {
			return b, fmt.Errorf("scalar 频带的 element_count 必须为 1")
		}
	case types.BandVector:
	default:
		return b, fmt.Errorf("未知频带类型 %q", b.Kind)
	}

	if b.MinValue != nil && b.MaxValue != nil && *b.MinValue > *b.MaxValue {
		return b, fmt.Errorf("min_value 大于 max_value")
	}

	return b, nil
}
