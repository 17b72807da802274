package service

import (
	"fmt"
	"sync/atomic"
	"testing"

	"photo-fusion/app/config"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 每个测试一个独立的共享缓存内存库，跨连接可见
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared",
		atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.ProcessingTask{},
		&model.Media{},
		&model.Face{},
		&model.Person{},
		&model.PersonRelation{},
		&model.DuplicateGroup{},
		&model.DuplicateMember{},
		&model.FailureLog{},
		&model.Tag{},
		&model.MediaTag{},
	))
	return db
}

func newTestLogger() *logger.Logger {
	return logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
}

func newTestConfig() *config.Config {
	return &config.Config{
		Library: config.LibraryConfig{
			ImageExtensions:  []string{".jpg", ".jpeg", ".png"},
			VideoExtensions:  []string{".mp4", ".mkv"},
			ScanBatchSize:    50,
			ThumbnailSize:    64,
			MissingGraceDays: 3,
			MissingPurgeDays: 30,
		},
		Processing: config.ProcessingConfig{
			BatchSize:     50,
			ActivePlugins: []string{"faces", "embedding", "auto_tag"},
			SceneCount:    3,
		},
		Cluster: config.ClusterConfig{
			BatchSize:         100,
			AssignThreshold:   0.40,
			AssignMargin:      0.05,
			MinAppearance:     3,
			MinClusterSize:    3,
			MinSamples:        2,
			Eps:               0.35,
			MinFacesPerPerson: 3,
			MaxRadius:         0.45,
			MinDistinctMedia:  2,
			MergeThresholdPct: 75.0,
		},
		Duplicate: config.DuplicateConfig{
			HammingThreshold: 5,
			NearVideoEnabled: true,
		},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewOrchestrator(db, newTestConfig(), newTestLogger()), db
}

// newRunningTask 插入一条运行中的任务记录并返回其上下文，
// 直接驱动任务引擎的测试用，不经过编排器的协程
func newRunningTask(t *testing.T, o *Orchestrator, taskType model.TaskType) *TaskContext {
	t.Helper()

	task := model.ProcessingTask{
		ID:       uuid.NewString(),
		TaskType: taskType,
		Status:   model.TaskStatusRunning,
	}
	require.NoError(t, o.db.Create(&task).Error)
	return newTaskContext(o, task)
}
