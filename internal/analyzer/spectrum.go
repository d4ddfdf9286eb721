package analyzer

import (
	"fmt"
	"math"
	"math/cmplx"

	"audio-frames/internal/types"

	"github.com/mjibson/go-dsp/fft"
)

// 频带名
const (
	BandLoudness = "loudness"
	BandPeak     = "peak"
	BandSpectrum = "spectrum"
	BandCentroid = "centroid"
)

// silenceFloorDB 数值下限，全零输入也能得到有限值
const silenceFloorDB = -120.0

// minBandHz 对数分带的起始频率
const minBandHz = 20.0

// FrameBands 参考分析器输出的频带定义，顺序即帧内布局顺序
func FrameBands(spectrumBands int) []types.BandDef {
	floor, ceil := silenceFloorDB, 0.0
	return []types.BandDef{
		{Name: BandLoudness, Kind: types.BandScalar, DataType: types.Float32, ElementCount: 1, ElementByteWidth: 4,
			Unit: "dBFS", Description: "RMS level per hop", MinValue: &floor, MaxValue: &ceil},
		{Name: BandPeak, Kind: types.BandScalar, DataType: types.Float32, ElementCount: 1, ElementByteWidth: 4,
			Unit: "dBFS", Description: "sample peak per hop", MinValue: &floor, MaxValue: &ceil},
		{Name: BandSpectrum, Kind: types.BandVector, DataType: types.Float32, ElementCount: spectrumBands, ElementByteWidth: 4,
			Unit: "dB", Description: "log-spaced band energies"},
		{Name: BandCentroid, Kind: types.BandScalar, DataType: types.Float32, ElementCount: 1, ElementByteWidth: 4,
			Unit: "Hz", Description: "spectral centroid"},
	}
}

// FrameFeatures 一帧的特征，Flux 只用于事件检测不写入帧
type FrameFeatures struct {
	LoudnessDB float64
	PeakDB     float64
	Spectrum   []float64
	CentroidHz float64
	Flux       float64
}

// Values 转为编解码器使用的频带数值
func (f FrameFeatures) Values() map[string][]float64 {
	return map[string][]float64{
		BandLoudness: {f.LoudnessDB},
		BandPeak:     {f.PeakDB},
		BandSpectrum: f.Spectrum,
		BandCentroid: {f.CentroidHz},
	}
}

// SpectrumAnalyzer 逐帧特征提取器
type SpectrumAnalyzer struct {
	sampleRate int
	windowSize int
	bandBins   [][2]int // 每个分带覆盖的 FFT bin 区间 [lo, hi)
	window     []float64
}

// NewSpectrumAnalyzer 创建特征提取器，windowSize 向上取整到 2 的幂
func NewSpectrumAnalyzer(sampleRate, windowSize, bands int) (*SpectrumAnalyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("采样率无效: %d", sampleRate)
	}
	if windowSize < 16 {
		return nil, fmt.Errorf("FFT 窗口过小: %d", windowSize)
	}
	if bands < 1 {
		return nil, fmt.Errorf("频谱分带数必须 >= 1: %d", bands)
	}

	s := &SpectrumAnalyzer{
		sampleRate: sampleRate,
		windowSize: nearestPowerOf2(windowSize),
	}
	s.window = hammingWindow(s.windowSize)
	s.bandBins = logBandBins(sampleRate, s.windowSize, bands)
	return s, nil
}

// WindowSize 实际使用的 FFT 窗口大小
func (s *SpectrumAnalyzer) WindowSize() int {
	return s.windowSize
}

// Analyze 返回 frameCount 帧特征。第 i 帧的电平取时间 [i*hopMs, (i+1)*hopMs) 内的采样，
// 频谱窗口从该帧起点开始，越界部分补零。每帧边界单独由帧号换算，不累积取整误差。
func (s *SpectrumAnalyzer) Analyze(mono []float64, hopMs, frameCount int) ([]FrameFeatures, error) {
	if len(mono) == 0 {
		return nil, fmt.Errorf("音频采样数据为空")
	}
	if hopMs < 1 {
		return nil, fmt.Errorf("hop 必须大于 0: %d ms", hopMs)
	}

	out := make([]FrameFeatures, frameCount)
	buf := make([]float64, s.windowSize)
	var prev []float64

	for i := range out {
		start := s.sampleAt(i, hopMs)
		end := min(s.sampleAt(i+1, hopMs), len(mono))

		var seg []float64
		if start < end {
			seg = mono[start:end]
		}
		out[i].LoudnessDB, out[i].PeakDB = levels(seg)

		for j := range buf {
			k := start + j
			if k < len(mono) {
				buf[j] = mono[k] * s.window[j]
			} else {
				buf[j] = 0
			}
		}
		power := s.calculatePowerSpectrum(fft.FFTReal(buf))

		out[i].Spectrum = s.bandEnergies(power)
		out[i].CentroidHz = s.centroid(power)
		out[i].Flux = spectralFlux(prev, power)
		prev = power
	}
	return out, nil
}

// sampleAt 第 frame 帧起点对应的采样下标 round(frame * hopMs * sampleRate / 1000)
func (s *SpectrumAnalyzer) sampleAt(frame, hopMs int) int {
	return int(math.Round(float64(frame) * float64(hopMs) * float64(s.sampleRate) / 1000))
}

// levels RMS 与峰值电平 (dBFS)
func levels(seg []float64) (rmsDB, peakDB float64) {
	if len(seg) == 0 {
		return silenceFloorDB, silenceFloorDB
	}
	sum, peak := 0.0, 0.0
	for _, v := range seg {
		sum += v * v
		peak = math.Max(peak, math.Abs(v))
	}
	return toDB(math.Sqrt(sum / float64(len(seg)))), toDB(peak)
}

func toDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return silenceFloorDB
	}
	return math.Max(20*math.Log10(amplitude), silenceFloorDB)
}

func powerToDB(p float64) float64 {
	if p <= 0 {
		return silenceFloorDB
	}
	return math.Max(10*math.Log10(p), silenceFloorDB)
}

// hammingWindow w(n) = 0.54 - 0.46 * cos(2πn / (N-1))
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// calculatePowerSpectrum 单边功率谱，按窗口长度归一化
func (s *SpectrumAnalyzer) calculatePowerSpectrum(spectrum []complex128) []float64 {
	power := make([]float64, len(spectrum)/2)
	norm := float64(len(spectrum))
	for i := range power {
		a := cmplx.Abs(spectrum[i]) / norm
		power[i] = a * a
	}
	return power
}

// logBandBins 从 minBandHz 到奈奎斯特频率按对数等分，每个分带至少一个 bin
func logBandBins(sampleRate, windowSize, bands int) [][2]int {
	nyquist := float64(sampleRate) / 2
	bins := windowSize / 2
	binHz := float64(sampleRate) / float64(windowSize)
	lowHz := math.Min(minBandHz, nyquist/2)
	ratio := nyquist / lowHz

	out := make([][2]int, bands)
	for k := range out {
		loHz := lowHz * math.Pow(ratio, float64(k)/float64(bands))
		hiHz := lowHz * math.Pow(ratio, float64(k+1)/float64(bands))
		lo := min(max(int(loHz/binHz), 1), bins-1)
		hi := min(max(int(hiHz/binHz), lo+1), bins)
		out[k] = [2]int{lo, hi}
	}
	return out
}

func (s *SpectrumAnalyzer) bandEnergies(power []float64) []float64 {
	out := make([]float64, len(s.bandBins))
	for k, b := range s.bandBins {
		sum := 0.0
		for i := b[0]; i < b[1]; i++ {
			sum += power[i]
		}
		out[k] = powerToDB(sum)
	}
	return out
}

// centroid 频谱质心 (Hz)，静音帧为 0
func (s *SpectrumAnalyzer) centroid(power []float64) float64 {
	binHz := float64(s.sampleRate) / float64(s.windowSize)
	num, den := 0.0, 0.0
	for i, p := range power {
		num += float64(i) * binHz * p
		den += p
	}
	if den <= 1e-18 {
		return 0
	}
	return num / den
}

// spectralFlux 相邻两帧功率谱的正向差分和
func spectralFlux(prev, cur []float64) float64 {
	if prev == nil {
		return 0
	}
	flux := 0.0
	for i := range cur {
		if d := math.Sqrt(cur[i]) - math.Sqrt(prev[i]); d > 0 {
			flux += d
		}
	}
	return flux
}

// nearestPowerOf2 不小于 n 的最小 2 的幂
func nearestPowerOf2(n int) int {
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
