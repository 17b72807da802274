package thumbnail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// Generator 缩略图生成器
type Generator struct {
	dir  string // 缩略图输出目录
	size int    // 最长边像素
}

// New 创建缩略图生成器
func New(dir string, size int) *Generator {
	return &Generator{dir: dir, size: size}
}

// Generate 为媒体生成以 ID 命名的缩略图并返回其路径。
// 图片走 imaging 缩放，无法解码的媒体（视频等）退化为占位图。
// 任何一步失败都不留半成品文件。
func (g *Generator) Generate(mediaID uint, sourcePath string, isImage bool) (string, error) {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", fmt.Errorf("创建缩略图目录失败: %w", err)
	}

	thumbPath := filepath.Join(g.dir, fmt.Sprintf("%d.jpg", mediaID))

	var err error
	if isImage {
		err = g.fromImage(sourcePath, thumbPath)
	} else {
		err = g.placeholder(sourcePath, thumbPath)
	}
	if err != nil {
		_ = os.Remove(thumbPath)
		return "", err
	}
	return thumbPath, nil
}

// Remove 删除某个媒体的缩略图
func (g *Generator) Remove(thumbPath string) {
	if thumbPath != "" {
		_ = os.Remove(thumbPath)
	}
}

// fromImage 解码原图并缩放保存
func (g *Generator) fromImage(sourcePath, thumbPath string) error {
	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("解码图片失败: %w", err)
	}

	thumb := imaging.Fit(img, g.size, g.size, imaging.Lanczos)
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("保存缩略图失败: %w", err)
	}
	return nil
}

// placeholder 用文件名首字符画一张占位缩略图
func (g *Generator) placeholder(sourcePath, thumbPath string) error {
	dc := gg.NewContext(g.size, g.size)
	dc.SetRGB(0.16, 0.18, 0.22)
	dc.Clear()

	name := filepath.Base(sourcePath)
	initial := "?"
	if name != "" {
		initial = strings.ToUpper(string([]rune(name)[0]))
	}

	dc.SetRGB(0.85, 0.87, 0.9)
	dc.DrawStringAnchored(initial, float64(g.size)/2, float64(g.size)/2, 0.5, 0.5)

	if err := imaging.Save(dc.Image(), thumbPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("保存占位缩略图失败: %w", err)
	}
	return nil
}
