package analyzer

import (
	"encoding/json"
	"math"

	"audio-frames/internal/types"
)

// 事件检测阈值
const (
	silenceThresholdDB = -60.0
	minSilenceMs       = 200
	peakThresholdDB    = -1.0
	transientMinDB     = -50.0
	transientSigma     = 2.0
	transientGapMs     = 50
)

// DetectEvents 从逐帧特征中检测静音段、近削波峰值和瞬态
func DetectEvents(feats []FrameFeatures, hopMs int) []types.Event {
	var events []types.Event
	events = append(events, detectSilence(feats, hopMs)...)
	events = append(events, detectPeaks(feats, hopMs)...)
	events = append(events, detectTransients(feats, hopMs)...)
	return events
}

// detectSilence 连续低于阈值且不短于 minSilenceMs 的区段
func detectSilence(feats []FrameFeatures, hopMs int) []types.Event {
	var events []types.Event
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if d := (end - start) * hopMs; d >= minSilenceMs {
			events = append(events, types.Event{
				TimeMs:     start * hopMs,
				DurationMs: &d,
				EventType:  types.EventSilence,
			})
		}
		start = -1
	}
	for i, f := range feats {
		if f.LoudnessDB < silenceThresholdDB {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(feats))
	return events
}

// detectPeaks 每段连续近削波的帧记一个事件，落在段内最高峰
func detectPeaks(feats []FrameFeatures, hopMs int) []types.Event {
	var events []types.Event
	best := -1
	flush := func() {
		if best < 0 {
			return
		}
		payload, _ := json.Marshal(map[string]float64{"peak_dbfs": round2(feats[best].PeakDB)})
		events = append(events, types.Event{
			TimeMs:    best * hopMs,
			EventType: types.EventPeak,
			Payload:   payload,
		})
		best = -1
	}
	for i, f := range feats {
		if f.PeakDB >= peakThresholdDB {
			if best < 0 || f.PeakDB > feats[best].PeakDB {
				best = i
			}
			continue
		}
		flush()
	}
	flush()
	return events
}

// detectTransients 谱通量超过均值加 transientSigma 倍标准差的局部极大值
func detectTransients(feats []FrameFeatures, hopMs int) []types.Event {
	if len(feats) < 3 {
		return nil
	}
	mean, std := fluxStats(feats)
	if std == 0 {
		return nil
	}
	threshold := mean + transientSigma*std

	var events []types.Event
	last := math.MinInt32
	for i := 1; i < len(feats)-1; i++ {
		f := feats[i]
		if f.Flux < threshold || f.LoudnessDB < transientMinDB {
			continue
		}
		if f.Flux < feats[i-1].Flux || f.Flux < feats[i+1].Flux {
			continue
		}
		t := i * hopMs
		if t-last < transientGapMs {
			continue
		}
		conf := math.Min(1, (f.Flux-mean)/(4*transientSigma*std))
		conf = round2(math.Max(conf, 0))
		events = append(events, types.Event{
			TimeMs:     t,
			EventType:  types.EventTransient,
			Confidence: &conf,
		})
		last = t
	}
	return events
}

func fluxStats(feats []FrameFeatures) (mean, std float64) {
	for _, f := range feats {
		mean += f.Flux
	}
	mean /= float64(len(feats))
	for _, f := range feats {
		d := f.Flux - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(feats)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
