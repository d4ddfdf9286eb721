package frames

// FrameToTimeMs 帧起始时间
func FrameToTimeMs(frame, hopMs int) int {
	return frame * hopMs
}

// TimeToFrame 时间所在的帧（向下取整）
func TimeToFrame(timeMs, hopMs int) int {
	return timeMs / hopMs
}

// FrameRange 把 [fromMs, toMs) 映射为闭区间帧号 [start, end]
//
// 先把时间夹到 [0, durationMs]，夹完后 fromMs >= toMs 视为空区间。
// start = floor(from/hop)，end = min(frameCount-1, ceil(to/hop)-1)。
func FrameRange(fromMs, toMs, hopMs, frameCount, durationMs int) (start, end int, ok bool) {
	if hopMs <= 0 || frameCount <= 0 {
		return 0, 0, false
	}
	fromMs = clamp(fromMs, 0, durationMs)
	toMs = clamp(toMs, 0, durationMs)
	if fromMs >= toMs {
		return 0, 0, false
	}

	start = fromMs / hopMs
	end = min(frameCount-1, (toMs+hopMs-1)/hopMs-1)
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

// ClampRange 把时间区间夹到 [0, durationMs]
func ClampRange(fromMs, toMs, durationMs int) (int, int) {
	return clamp(fromMs, 0, durationMs), clamp(toMs, 0, durationMs)
}

// ChunkTimeRange 块覆盖的时间区间，结束时间不超过 durationMs
func ChunkTimeRange(span ChunkSpan, hopMs, durationMs int) (startMs, endMs int) {
	startMs = FrameToTimeMs(span.StartFrame, hopMs)
	endMs = min(FrameToTimeMs(span.EndFrame(), hopMs), durationMs)
	return startMs, endMs
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
