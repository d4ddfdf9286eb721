package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"audio-frames/internal/decoder"
	"audio-frames/internal/frames"
	"audio-frames/internal/store"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// analysisNamespace 由内容哈希派生 analysis_id 的命名空间
var analysisNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("audio-frames/analysis"))

// Publisher 分析结果的写入方
type Publisher interface {
	FindByFingerprint(ctx context.Context, analysisID uuid.UUID, fingerprint string) (*types.Manifest, error)
	Publish(ctx context.Context, in store.PublishInput) (*types.Manifest, bool, error)
}

// Analyzer 参考分析器：解码、提取逐帧特征与事件、发布到帧存储
type Analyzer struct {
	config          *types.AnalyzerConfig
	decoderRegistry *decoder.DecoderRegistry
	publisher       Publisher
	out             io.Writer
}

// NewAnalyzer 创建新的分析器
func NewAnalyzer(config *types.AnalyzerConfig, publisher Publisher) *Analyzer {
	return &Analyzer{
		config:          config,
		decoderRegistry: decoder.NewDecoderRegistry(),
		publisher:       publisher,
		out:             os.Stdout,
	}
}

// SetOutput 修改结果输出位置
func (a *Analyzer) SetOutput(w io.Writer) {
	a.out = w
}

// Supports 是否能解码该文件
func (a *Analyzer) Supports(filePath string) bool {
	return a.decoderRegistry.Supports(filePath)
}

// AnalyzeFiles 用工作池分析多个音频文件
func (a *Analyzer) AnalyzeFiles(ctx context.Context, filePaths []string) []*types.AnalysisResult {
	var bar *progressbar.ProgressBar
	if !a.config.Quiet && !a.config.JSONOutput {
		bar = progressbar.NewOptions(len(filePaths),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("分析音频文件"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowIts(),
		)
	}

	jobs := make(chan string, len(filePaths))
	results := make(chan *types.AnalysisResult, len(filePaths))

	workers := max(a.config.Concurrency, 1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for filePath := range jobs {
				results <- a.AnalyzeFile(ctx, filePath)
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, filePath := range filePaths {
			select {
			case jobs <- filePath:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []*types.AnalysisResult
	for result := range results {
		allResults = append(allResults, result)
		a.outputResult(result)
	}

	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if !a.config.Quiet && !a.config.JSONOutput {
		a.printSummary(allResults)
	}
	return allResults
}

// AnalyzeFile 分析单个文件并发布。指纹已存在时跳过特征提取
func (a *Analyzer) AnalyzeFile(ctx context.Context, filePath string) *types.AnalysisResult {
	result := &types.AnalysisResult{
		FilePath: filePath,
		Status:   types.StatusError,
	}
	if err := a.analyzeFile(ctx, filePath, result); err != nil {
		result.Error = err.Error()
		slog.Warn("Analysis failed", "file", filePath, "error", err)
	}
	return result
}

func (a *Analyzer) analyzeFile(ctx context.Context, filePath string, result *types.AnalysisResult) error {
	contentHash, err := HashFile(filePath)
	if err != nil {
		return err
	}

	audioFile, err := a.decoderRegistry.DecodeFile(filePath)
	if err != nil {
		return fmt.Errorf("解码失败: %w", err)
	}
	defer audioFile.Close()

	result.Format = audioFile.GetFormat()
	result.Metadata = audioFile.GetMetadata()
	sampleRate := audioFile.GetSampleRate()

	spectrum, err := NewSpectrumAnalyzer(sampleRate, a.config.FFTSize, a.config.SpectrumBands)
	if err != nil {
		return err
	}

	// 文件头给出采样数时先查指纹，命中则不必解码
	headerSamples := audioFile.GetTotalSamples()
	if headerSamples > 0 {
		hit, err := a.checkCache(ctx, result, contentHash, sampleRate, headerSamples, spectrum.WindowSize())
		if err != nil || hit {
			return err
		}
	}

	samples, err := audioFile.GetSamples()
	if err != nil {
		return fmt.Errorf("读取音频数据失败: %w", err)
	}
	mono := decoder.Mono(samples, audioFile.GetChannels())
	if len(mono) == 0 {
		return fmt.Errorf("音频不包含采样")
	}
	if len(mono) != headerSamples {
		slog.Debug("Sample count differs from header", "file", filePath, "header", headerSamples, "decoded", len(mono))
		hit, err := a.checkCache(ctx, result, contentHash, sampleRate, len(mono), spectrum.WindowSize())
		if err != nil || hit {
			return err
		}
	}

	in, m, layout, err := a.prepare(contentHash, sampleRate, len(mono), spectrum.WindowSize())
	if err != nil {
		return err
	}

	feats, err := spectrum.Analyze(mono, m.HopMs, m.FrameCount)
	if err != nil {
		return fmt.Errorf("特征提取失败: %w", err)
	}

	chunks, err := encodeChunks(layout, feats, m.ChunkSizeFrames)
	if err != nil {
		return err
	}
	events := DetectEvents(feats, m.HopMs)
	for i := range events {
		events[i].AnalysisID = in.AnalysisID
	}

	published, created, err := a.publisher.Publish(ctx, store.PublishInput{
		Manifest: in,
		Chunks:   chunks,
		Events:   events,
	})
	if err != nil {
		return fmt.Errorf("发布失败: %w", err)
	}

	status := types.StatusPublished
	if !created {
		status = types.StatusCached
	} else {
		result.EventCount = len(events)
	}
	a.fillFromManifest(result, published, status)
	return nil
}

// prepare 生成清单输入并计算布局与指纹
func (a *Analyzer) prepare(contentHash string, sampleRate, monoSamples, fftSize int) (types.ManifestInput, *types.Manifest, *frames.Layout, error) {
	in, err := a.manifestInput(contentHash, sampleRate, monoSamples, fftSize)
	if err != nil {
		return types.ManifestInput{}, nil, nil, err
	}
	m, layout, err := frames.PrepareManifest(in)
	if err != nil {
		return types.ManifestInput{}, nil, nil, err
	}
	return in, m, layout, nil
}

// checkCache 相同指纹的完整清单已存在时填充结果并返回 true
func (a *Analyzer) checkCache(ctx context.Context, result *types.AnalysisResult, contentHash string, sampleRate, monoSamples, fftSize int) (bool, error) {
	in, m, _, err := a.prepare(contentHash, sampleRate, monoSamples, fftSize)
	if err != nil {
		return false, err
	}
	result.AnalysisID = in.AnalysisID.String()
	result.Fingerprint = m.Fingerprint

	existing, err := a.publisher.FindByFingerprint(ctx, in.AnalysisID, m.Fingerprint)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("查询已有分析失败: %w", err)
	case !existing.Complete:
		return false, nil
	}
	a.fillFromManifest(result, existing, types.StatusCached)
	slog.Info("Analysis cached", "file", result.FilePath, "manifest_id", existing.ID)
	return true, nil
}

// manifestInput 分析参数进入指纹，改任何一项都会生成新清单
func (a *Analyzer) manifestInput(contentHash string, sampleRate, monoSamples, fftSize int) (types.ManifestInput, error) {
	hopMs := a.config.HopMs
	if hopMs <= 0 {
		return types.ManifestInput{}, fmt.Errorf("hop_ms 必须大于 0")
	}
	durationMs := int(math.Ceil(float64(monoSamples) * 1000 / float64(sampleRate)))
	if durationMs <= 0 {
		return types.ManifestInput{}, fmt.Errorf("音频时长为 0")
	}

	params, err := json.Marshal(map[string]any{
		"hop_ms":         hopMs,
		"fft_size":       fftSize,
		"spectrum_bands": a.config.SpectrumBands,
		"window":         "hamming",
		"mixdown":        "mean",
		"min_band_hz":    minBandHz,
	})
	if err != nil {
		return types.ManifestInput{}, err
	}

	analysisID := a.config.AnalysisID
	if analysisID == uuid.Nil {
		analysisID = uuid.NewSHA1(analysisNamespace, []byte(contentHash))
	}

	return types.ManifestInput{
		AnalysisID:       analysisID,
		HopMs:            hopMs,
		FrameCount:       (durationMs + hopMs - 1) / hopMs,
		DurationMs:       durationMs,
		SampleRate:       sampleRate,
		Bands:            FrameBands(a.config.SpectrumBands),
		AudioContentHash: contentHash,
		AnalyzerVersion:  a.config.AnalyzerVersion,
		AnalysisParams:   params,
		ChunkSizeFrames:  a.config.ChunkSizeFrames,
	}, nil
}

// encodeChunks 按分块计划把逐帧特征编码为数据块
func encodeChunks(layout *frames.Layout, feats []FrameFeatures, chunkSize int) ([][]byte, error) {
	spans, err := frames.PlanChunks(len(feats), chunkSize)
	if err != nil {
		return nil, err
	}
	chunks := make([][]byte, len(spans))
	for i, span := range spans {
		data := make([]byte, span.ByteLen(layout.BytesPerFrame))
		for j := 0; j < span.FrameCount; j++ {
			dst := data[j*layout.BytesPerFrame : (j+1)*layout.BytesPerFrame]
			if err := layout.EncodeFrameInto(dst, feats[span.StartFrame+j].Values()); err != nil {
				return nil, fmt.Errorf("编码第 %d 帧失败: %w", span.StartFrame+j, err)
			}
		}
		chunks[i] = data
	}
	return chunks, nil
}

func (a *Analyzer) fillFromManifest(result *types.AnalysisResult, m *types.Manifest, status string) {
	result.Status = status
	result.AnalysisID = m.AnalysisID.String()
	result.ManifestID = m.ID.String()
	result.Fingerprint = m.Fingerprint
	result.FrameCount = m.FrameCount
	result.TotalChunks = m.TotalChunks
}

// HashFile 原始文件字节的 SHA-256，格式为 "sha256:<hex>"
func HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// outputResult 输出单个分析结果
func (a *Analyzer) outputResult(result *types.AnalysisResult) {
	if a.config.Quiet {
		if result.Status != types.StatusError {
			fmt.Fprintln(a.out, result.ManifestID)
		}
		return
	}

	if a.config.JSONOutput {
		jsonData, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON序列化失败: %v\n", err)
			return
		}
		fmt.Fprintln(a.out, string(jsonData))
		return
	}

	a.printDetailedResult(result)
}

// printDetailedResult 打印详细结果
func (a *Analyzer) printDetailedResult(result *types.AnalysisResult) {
	fmt.Fprintf(a.out, "\n=== %s ===\n", filepath.Base(result.FilePath))
	fmt.Fprintf(a.out, "路径: %s\n", result.FilePath)
	fmt.Fprintf(a.out, "格式: %s\n", result.Format)
	fmt.Fprintf(a.out, "状态: %s\n", result.Status)

	if result.Error != "" {
		fmt.Fprintf(a.out, "错误: %s\n", result.Error)
		return
	}

	if result.Metadata.Title != "" {
		fmt.Fprintf(a.out, "标题: %s\n", result.Metadata.Title)
	}
	if result.Metadata.Artist != "" {
		fmt.Fprintf(a.out, "艺术家: %s\n", result.Metadata.Artist)
	}
	fmt.Fprintf(a.out, "分析ID: %s\n", result.AnalysisID)
	fmt.Fprintf(a.out, "清单ID: %s\n", result.ManifestID)
	fmt.Fprintf(a.out, "指纹: %s\n", result.Fingerprint)
	fmt.Fprintf(a.out, "帧数: %d (%d 块)\n", result.FrameCount, result.TotalChunks)
	if result.Status == types.StatusPublished {
		fmt.Fprintf(a.out, "事件数: %d\n", result.EventCount)
	} else {
		fmt.Fprintf(a.out, "已存在相同指纹的分析，跳过\n")
	}
}

// printSummary 打印统计摘要
func (a *Analyzer) printSummary(results []*types.AnalysisResult) {
	published, cached, failed := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case types.StatusPublished:
			published++
		case types.StatusCached:
			cached++
		case types.StatusError:
			failed++
		}
	}

	fmt.Fprintf(a.out, "\n=== 分析统计 ===\n")
	fmt.Fprintf(a.out, "总文件数: %d\n", len(results))
	fmt.Fprintf(a.out, "新发布: %d\n", published)
	fmt.Fprintf(a.out, "已缓存: %d\n", cached)
	if failed > 0 {
		fmt.Fprintf(a.out, "失败: %d\n", failed)
	}
}
