package mediainfo

import (
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	// 注册额外的图片解码器
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Info 媒体文件的探测结果
type Info struct {
	MediaType string  // image 或 video
	Width     int
	Height    int
	Duration  float64 // 秒，图片恒为 0
	SizeBytes int64
}

// Prober 给定文件路径返回时长、尺寸等元信息
type Prober interface {
	Probe(path string) (*Info, error)
}

// Decoder 给定文件路径返回可用于分析的场景帧序列
type Decoder interface {
	ExtractScenes(path string, count int) ([]image.Image, error)
}

// DefaultProber 基于文件后缀和图片头信息的探测实现
type DefaultProber struct {
	imageExts map[string]bool
	videoExts map[string]bool
}

// NewProber 创建探测器，后缀白名单统一转为小写
func NewProber(imageExts, videoExts []string) *DefaultProber {
	p := &DefaultProber{
		imageExts: make(map[string]bool, len(imageExts)),
		videoExts: make(map[string]bool, len(videoExts)),
	}
	for _, ext := range imageExts {
		p.imageExts[strings.ToLower(ext)] = true
	}
	for _, ext := range videoExts {
		p.videoExts[strings.ToLower(ext)] = true
	}
	return p
}

// IsMedia 后缀是否在白名单中
func (p *DefaultProber) IsMedia(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return p.imageExts[ext] || p.videoExts[ext]
}

// Probe 探测媒体元信息
func (p *DefaultProber) Probe(path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case p.imageExts[ext]:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("打开图片失败: %w", err)
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return nil, fmt.Errorf("解析图片头失败: %w", err)
		}
		return &Info{
			MediaType: "image",
			Width:     cfg.Width,
			Height:    cfg.Height,
			SizeBytes: stat.Size(),
		}, nil
	case p.videoExts[ext]:
		// 不解析视频容器，时长留给外部解码能力补全
		return &Info{
			MediaType: "video",
			SizeBytes: stat.Size(),
		}, nil
	default:
		return nil, fmt.Errorf("不支持的媒体后缀: %s", ext)
	}
}

// DefaultDecoder 场景帧提取的默认实现：图片返回自身，
// 视频调用系统 ffmpeg 按均匀偏移抽帧。找不到 ffmpeg 时报错，
// 由流水线按单条失败记账，不做静默跳过
type DefaultDecoder struct {
	prober *DefaultProber

	lookupOnce  sync.Once
	ffmpegPath  string
	ffprobePath string
}

// NewDecoder 创建默认解码器
func NewDecoder(prober *DefaultProber) *DefaultDecoder {
	return &DefaultDecoder{prober: prober}
}

// ExtractScenes 提取场景帧
func (d *DefaultDecoder) ExtractScenes(path string, count int) ([]image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if d.prober.imageExts[ext] {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("解码图片失败: %w", err)
		}
		return []image.Image{img}, nil
	}
	return d.extractVideoFrames(path, count)
}

func (d *DefaultDecoder) extractVideoFrames(path string, count int) ([]image.Image, error) {
	d.lookupOnce.Do(func() {
		d.ffmpegPath, _ = exec.LookPath("ffmpeg")
		d.ffprobePath, _ = exec.LookPath("ffprobe")
	})
	if d.ffmpegPath == "" {
		return nil, fmt.Errorf("系统中没有 ffmpeg，无法提取视频帧: %s", path)
	}
	if count < 1 {
		count = 1
	}

	tmpDir, err := os.MkdirTemp("", "scene_extract_")
	if err != nil {
		return nil, fmt.Errorf("创建抽帧临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var frames []image.Image
	for i, offset := range frameOffsets(d.probeDuration(path), count) {
		out := filepath.Join(tmpDir, fmt.Sprintf("frame_%03d.jpg", i))
		cmd := exec.Command(d.ffmpegPath,
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", fmt.Sprintf("%.2f", offset),
			"-i", path,
			"-frames:v", "1", "-q:v", "2", out)
		if err := cmd.Run(); err != nil {
			// 个别偏移落在流结尾之外是正常的，继续尝试后面的偏移
			continue
		}
		if img, err := imaging.Open(out); err == nil {
			frames = append(frames, img)
		}
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("ffmpeg 未能从视频提取任何帧: %s", path)
	}
	return frames, nil
}

// probeDuration 用 ffprobe 读视频时长，读不到返回 0
func (d *DefaultDecoder) probeDuration(path string) float64 {
	if d.ffprobePath == "" {
		return 0
	}
	out, err := exec.Command(d.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path).Output()
	if err != nil {
		return 0
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration < 0 {
		return 0
	}
	return duration
}

// frameOffsets 计算抽帧时间点：有时长就均匀分布且避开首尾，
// 没有时长退化为从片头起每秒一帧
func frameOffsets(duration float64, count int) []float64 {
	offsets := make([]float64, count)
	if duration > 0 {
		for i := range offsets {
			offsets[i] = duration * float64(i+1) / float64(count+1)
		}
		return offsets
	}
	for i := range offsets {
		offsets[i] = float64(i)
	}
	return offsets
}
