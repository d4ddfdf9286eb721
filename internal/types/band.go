package types

// BandKind 频带类型
type BandKind string

const (
	BandScalar BandKind = "scalar"
	BandVector BandKind = "vector"
)

// DataType 频带元素的存储类型
type DataType string

const (
	Float32 DataType = "float32"
	Float64 DataType = "float64"
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Uint8   DataType = "uint8"
)

// Width 返回元素字节宽度，未知类型返回 0
func (d DataType) Width() int {
	switch d {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// DataTypeForWidth 按字节宽度推断默认存储类型
func DataTypeForWidth(width int) DataType {
	switch width {
	case 1:
		return Uint8
	case 2:
		return Int16
	case 4:
		return Float32
	case 8:
		return Float64
	}
	return ""
}

// BandDef 频带定义，顺序属于布局契约
type BandDef struct {
	Name             string   `json:"name"`
	Kind             BandKind `json:"kind"`
	DataType         DataType `json:"type"`
	ElementCount     int      `json:"size"`
	ElementByteWidth int      `json:"width"`
	Unit             string   `json:"unit,omitempty"`
	Description      string   `json:"description,omitempty"`
	MinValue         *float64 `json:"min_value,omitempty"`
	MaxValue         *float64 `json:"max_value,omitempty"`
}

// ByteWidth 该频带在每帧中占用的字节数
func (b BandDef) ByteWidth() int {
	return b.ElementCount * b.ElementByteWidth
}

// LayoutEntry 帧内字节布局项
type LayoutEntry struct {
	Band   string `json:"band"`
	Offset int    `json:"offset"`
	Width  int    `json:"width"`
}
