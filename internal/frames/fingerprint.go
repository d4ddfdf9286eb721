package frames

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"

	"audio-frames/internal/types"
)

// fingerprintDomain 指纹格式版本，格式变化时必须修改
const fingerprintDomain = "audio-frames/fingerprint/v1"

// Fingerprint 计算分析输出的确定性指纹（SHA-256 十六进制，64 字符）
//
// 只对标识性元数据做哈希：音频内容哈希、分析器版本、规范化参数 JSON、
// 规范化后的频带布局。耗时与帧数无关。
func Fingerprint(audioContentHash, analyzerVersion string, params json.RawMessage, layout *Layout) (string, error) {
	canonical, err := CanonicalJSON(params)
	if err != nil {
		return "", err
	}
	bands, err := json.Marshal(layout.Bands)
	if err != nil {
		return "", fmt.Errorf("序列化频带: %w", err)
	}

	h := sha256.New()
	writeField(h, []byte(fingerprintDomain))
	writeField(h, []byte(audioContentHash))
	writeField(h, []byte(analyzerVersion))
	writeField(h, canonical)
	writeField(h, bands)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField 长度前缀写入，避免字段拼接产生歧义
func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// CanonicalJSON 键排序、去空白的规范化 JSON；空输入视为 {}
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: analysis_params 不是合法 JSON: %v", types.ErrValidation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: analysis_params 含有多余内容", types.ErrValidation)
	}

	// encoding/json 对 map 键排序输出，json.Number 保留原始数字文本
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: analysis_params: %v", types.ErrValidation, err)
	}
	return out, nil
}
