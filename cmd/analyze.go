package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"audio-frames/internal/analyzer"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	quiet           bool
	jsonOutput      bool
	concurrency     int
	hopMs           int
	chunkSize       int
	fftSize         int
	spectrumBands   int
	analyzerVersion string
	analysisID      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "分析音频文件并发布逐帧特征与事件",
	Long: `分析单个音频文件或目录下所有支持的文件 (WAV, FLAC)。

每个文件按 hop 提取响度、峰值、对数分带频谱和频谱质心，检测静音、近削波峰值和瞬态事件，
在一个事务内发布清单、全部数据块和事件。相同内容与参数的分析已存在时直接跳过。`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "静默模式，仅输出清单ID")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "以JSON格式输出结果")
	analyzeCmd.Flags().IntVarP(&concurrency, "concurrency", "j", runtime.NumCPU(), "并发处理文件数量")
	analyzeCmd.Flags().IntVar(&hopMs, "hop", 10, "帧间隔 ms (FRAMES_HOP_MS)")
	analyzeCmd.Flags().IntVar(&chunkSize, "chunk-size", types.DefaultChunkSizeFrames, "每块帧数 (FRAMES_CHUNK_SIZE)")
	analyzeCmd.Flags().IntVar(&fftSize, "fft-size", 2048, "FFT 窗口大小 (FRAMES_FFT_SIZE)")
	analyzeCmd.Flags().IntVar(&spectrumBands, "bands", 24, "频谱分带数量 (FRAMES_SPECTRUM_BANDS)")
	analyzeCmd.Flags().StringVar(&analyzerVersion, "analyzer-version", types.DefaultAnalyzerVersion, "写入清单的分析器版本 (FRAMES_ANALYZER_VERSION)")
	analyzeCmd.Flags().StringVar(&analysisID, "analysis-id", "", "指定分析ID，仅分析单个文件时可用；默认由文件内容派生")
}

func analyzerConfig(cmd *cobra.Command) (*types.AnalyzerConfig, error) {
	flags := cmd.Flags()
	if flags.Changed("hop") {
		cfg.HopMs = hopMs
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSizeFrames = chunkSize
	}
	if flags.Changed("fft-size") {
		cfg.FFTSize = fftSize
	}
	if flags.Changed("bands") {
		cfg.SpectrumBands = spectrumBands
	}
	if flags.Changed("analyzer-version") {
		cfg.AnalyzerVersion = analyzerVersion
	}

	config := &types.AnalyzerConfig{
		HopMs:           cfg.HopMs,
		ChunkSizeFrames: cfg.ChunkSizeFrames,
		FFTSize:         cfg.FFTSize,
		SpectrumBands:   cfg.SpectrumBands,
		AnalyzerVersion: cfg.AnalyzerVersion,
		Concurrency:     concurrency,
		Quiet:           quiet,
		JSONOutput:      jsonOutput,
	}
	if analysisID != "" {
		id, err := parseID(analysisID, "analysis-id")
		if err != nil {
			return nil, err
		}
		config.AnalysisID = id
	}
	return config, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	targetPath := args[0]

	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		return fmt.Errorf("路径不存在: %s", targetPath)
	}

	config, err := analyzerConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	audioAnalyzer := analyzer.NewAnalyzer(config, st)
	audioAnalyzer.SetOutput(cmd.OutOrStdout())

	files, err := collectAudioFiles(targetPath, audioAnalyzer.Supports)
	if err != nil {
		return fmt.Errorf("收集音频文件失败: %w", err)
	}

	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "未找到支持的音频文件")
		return nil
	}
	if config.AnalysisID != uuid.Nil && len(files) > 1 {
		return fmt.Errorf("%w: --analysis-id 只能用于单个文件，找到 %d 个", types.ErrValidation, len(files))
	}

	results := audioAnalyzer.AnalyzeFiles(ctx, files)
	for _, r := range results {
		if r.Status == types.StatusError {
			return fmt.Errorf("%d 个文件中有分析失败", len(results))
		}
	}
	return nil
}

func collectAudioFiles(path string, supported func(string) bool) ([]string, error) {
	var files []string

	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if supported(filePath) {
			files = append(files, filePath)
		}

		return nil
	})

	return files, err
}
