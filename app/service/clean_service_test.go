package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"photo-fusion/app/model"
	"photo-fusion/app/thumbnail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCleanFixture(t *testing.T) (*CleanService, *Orchestrator, string) {
	t.Helper()

	root := t.TempDir()
	o, db := newTestOrchestrator(t)
	o.cfg.Library.Roots = []string{root}

	thumbs := thumbnail.New(t.TempDir(), o.cfg.Library.ThumbnailSize)
	svc := NewCleanService(db, o.cfg, newTestLogger(), o.lock, thumbs)
	return svc, o, root
}

func daysAgo(n int) *time.Time {
	ts := time.Now().Add(-time.Duration(n) * 24 * time.Hour)
	return &ts
}

func TestCleanMarksNewlyMissing(t *testing.T) {
	svc, o, root := newCleanFixture(t)

	require.NoError(t, svc.db.Create(&model.Media{
		Path:      filepath.Join(root, "gone.jpg"),
		MediaType: model.MediaTypeImage,
	}).Error)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeCleanMissingFiles)))

	var m model.Media
	require.NoError(t, svc.db.First(&m).Error)
	require.NotNil(t, m.MissingSince)
	assert.False(t, m.MissingConfirmed)
	assert.WithinDuration(t, time.Now(), *m.MissingSince, time.Minute)
}

func TestCleanConfirmsAfterGracePeriod(t *testing.T) {
	svc, o, root := newCleanFixture(t)

	// 宽限期 3 天：丢了 5 天的确认，丢了 1 天的先不动
	require.NoError(t, svc.db.Create(&model.Media{
		Path: filepath.Join(root, "old.jpg"), MediaType: model.MediaTypeImage,
		MissingSince: daysAgo(5),
	}).Error)
	require.NoError(t, svc.db.Create(&model.Media{
		Path: filepath.Join(root, "recent.jpg"), MediaType: model.MediaTypeImage,
		MissingSince: daysAgo(1),
	}).Error)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeCleanMissingFiles)))

	var old, recent model.Media
	require.NoError(t, svc.db.Where("path LIKE ?", "%old.jpg").First(&old).Error)
	require.NoError(t, svc.db.Where("path LIKE ?", "%recent.jpg").First(&recent).Error)
	assert.True(t, old.MissingConfirmed)
	assert.False(t, recent.MissingConfirmed)
}

func TestCleanPurgesAfterRetention(t *testing.T) {
	svc, o, root := newCleanFixture(t)

	m := model.Media{
		Path: filepath.Join(root, "dead.jpg"), MediaType: model.MediaTypeImage,
		MissingSince: daysAgo(40), MissingConfirmed: true,
	}
	require.NoError(t, svc.db.Create(&m).Error)

	// 关联数据必须一起消失
	require.NoError(t, svc.db.Create(&model.Face{MediaID: m.ID}).Error)
	group := model.DuplicateGroup{MediaType: model.MediaTypeImage}
	require.NoError(t, svc.db.Create(&group).Error)
	require.NoError(t, svc.db.Create(&model.DuplicateMember{GroupID: group.ID, MediaID: m.ID}).Error)
	tag := model.Tag{Name: "海滩", Source: "auto"}
	require.NoError(t, svc.db.Create(&tag).Error)
	require.NoError(t, svc.db.Create(&model.MediaTag{MediaID: m.ID, TagID: tag.ID}).Error)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeCleanMissingFiles)))

	var count int64
	svc.db.Model(&model.Media{}).Count(&count)
	assert.Zero(t, count)
	svc.db.Model(&model.Face{}).Count(&count)
	assert.Zero(t, count)
	svc.db.Model(&model.DuplicateMember{}).Count(&count)
	assert.Zero(t, count)
	svc.db.Model(&model.MediaTag{}).Count(&count)
	assert.Zero(t, count)
	// 清除成员后分组不足 2 人，被一并修剪
	svc.db.Model(&model.DuplicateGroup{}).Count(&count)
	assert.Zero(t, count)
}

func TestCleanRestoresReappearedFile(t *testing.T) {
	svc, o, root := newCleanFixture(t)

	path := filepath.Join(root, "back.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, svc.db.Create(&model.Media{
		Path: path, MediaType: model.MediaTypeImage,
		MissingSince: daysAgo(10), MissingConfirmed: true,
	}).Error)

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeCleanMissingFiles)))

	var m model.Media
	require.NoError(t, svc.db.First(&m).Error)
	assert.Nil(t, m.MissingSince)
	assert.False(t, m.MissingConfirmed)
}
