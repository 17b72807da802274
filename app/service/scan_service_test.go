package service

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photo-fusion/app/mediainfo"
	"photo-fusion/app/model"
	"photo-fusion/app/thumbnail"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJPEG(t *testing.T, path string, tint uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: tint, G: uint8(x * 8), B: uint8(y * 10), A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, imaging.Save(img, path))
}

func writeGarbage(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("这不是一张图片"), 0644))
}

func newScanFixture(t *testing.T) (*ScanService, *Orchestrator, string) {
	t.Helper()

	root := t.TempDir()
	o, db := newTestOrchestrator(t)
	o.cfg.Library.Roots = []string{root}

	prober := mediainfo.NewProber(o.cfg.Library.ImageExtensions, o.cfg.Library.VideoExtensions)
	thumbs := thumbnail.New(t.TempDir(), o.cfg.Library.ThumbnailSize)
	svc := NewScanService(db, o.cfg, newTestLogger(), o.lock, prober, thumbs)
	return svc, o, root
}

func TestScanInsertsNewMedia(t *testing.T) {
	svc, o, root := newScanFixture(t)

	writeJPEG(t, filepath.Join(root, "a.jpg"), 10)
	writeJPEG(t, filepath.Join(root, "sub", "b.jpg"), 120)
	writeJPEG(t, filepath.Join(root, "c.jpeg"), 240)
	writeGarbage(t, filepath.Join(root, "broken.jpg"))
	// 白名单之外的文件被忽略
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	tc := newRunningTask(t, o, model.TaskTypeScan)
	require.NoError(t, svc.Run(tc))

	var media []model.Media
	require.NoError(t, svc.db.Order("path ASC").Find(&media).Error)
	require.Len(t, media, 3)
	for _, m := range media {
		assert.Equal(t, model.MediaTypeImage, m.MediaType)
		assert.NotEmpty(t, m.ThumbnailPath)
		assert.NotEmpty(t, m.PerceptualHash)
		assert.Equal(t, 32, m.Width)
		assert.Equal(t, 24, m.Height)
		_, err := os.Stat(m.ThumbnailPath)
		assert.NoError(t, err)
	}

	// 坏文件进失败日志，不中止整次扫描
	var failures []model.FailureLog
	require.NoError(t, svc.db.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Path, "broken.jpg")
	assert.Equal(t, tc.Task.ID, failures[0].TaskID)

	assert.Equal(t, int64(3), tc.Processed())
	assert.Equal(t, int64(4), tc.Total())
}

// failingThumbnailer 对指定路径报错，其余委托真实生成器
type failingThumbnailer struct {
	inner    *thumbnail.Generator
	failPath string
}

func (f *failingThumbnailer) Generate(mediaID uint, sourcePath string, isImage bool) (string, error) {
	if sourcePath == f.failPath {
		return "", errors.New("缩略图编码失败")
	}
	return f.inner.Generate(mediaID, sourcePath, isImage)
}

func (f *failingThumbnailer) Remove(thumbPath string) {
	f.inner.Remove(thumbPath)
}

func TestScanThumbnailFailureRollsBackRecord(t *testing.T) {
	svc, o, root := newScanFixture(t)

	writeJPEG(t, filepath.Join(root, "a.jpg"), 10)
	bad := filepath.Join(root, "b.jpg")
	writeJPEG(t, bad, 120)
	writeJPEG(t, filepath.Join(root, "c.jpg"), 240)

	svc.thumbs = &failingThumbnailer{
		inner:    thumbnail.New(t.TempDir(), o.cfg.Library.ThumbnailSize),
		failPath: bad,
	}

	tc := newRunningTask(t, o, model.TaskTypeScan)
	require.NoError(t, svc.Run(tc))

	// 缩略图失败的那条记录被保存点回滚，不留无缩略图的半成品
	var media []model.Media
	require.NoError(t, svc.db.Order("path ASC").Find(&media).Error)
	require.Len(t, media, 2)
	for _, m := range media {
		assert.NotEqual(t, bad, m.Path)
		assert.NotEmpty(t, m.ThumbnailPath)
	}

	var failures []model.FailureLog
	require.NoError(t, svc.db.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, bad, failures[0].Path)
	assert.Contains(t, failures[0].Reason, "缩略图")

	assert.Equal(t, int64(2), tc.Processed())
}

func TestScanIdempotent(t *testing.T) {
	svc, o, root := newScanFixture(t)
	writeJPEG(t, filepath.Join(root, "a.jpg"), 10)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeScan)))

	tc := newRunningTask(t, o, model.TaskTypeScan)
	require.NoError(t, svc.Run(tc))

	var count int64
	require.NoError(t, svc.db.Model(&model.Media{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, tc.Processed())
}

func TestScanRestoresReappearedFiles(t *testing.T) {
	svc, o, root := newScanFixture(t)

	path := filepath.Join(root, "back.jpg")
	writeJPEG(t, path, 66)

	since := time.Now().Add(-48 * time.Hour)
	require.NoError(t, svc.db.Create(&model.Media{
		Path:         path,
		MediaType:    model.MediaTypeImage,
		MissingSince: &since,
	}).Error)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeScan)))

	var m model.Media
	require.NoError(t, svc.db.Where("path = ?", path).First(&m).Error)
	assert.Nil(t, m.MissingSince)
	assert.False(t, m.MissingConfirmed)
}

func TestScanSkipsControlAndHiddenDirs(t *testing.T) {
	svc, o, root := newScanFixture(t)

	writeJPEG(t, filepath.Join(root, "keep.jpg"), 1)
	writeJPEG(t, filepath.Join(root, "data", "skip.jpg"), 2)
	writeJPEG(t, filepath.Join(root, ".hidden", "skip.jpg"), 3)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeScan)))

	var paths []string
	require.NoError(t, svc.db.Model(&model.Media{}).Pluck("path", &paths).Error)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "keep.jpg")
}
