package plugin

import (
	"context"
	"image"

	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// Stage 媒体处理流水线的一个阶段。
// 每个阶段幂等，完成情况由 media 行上对应的标记列持久化，
// 注册顺序即执行顺序，由配置决定哪些阶段启用。
type Stage interface {
	// Name 阶段名，同时用作配置里的启用开关键
	Name() string
	// FlagColumn 对应 media 表的完成标记列名
	FlagColumn() string
	// Done 该媒体此阶段是否已完成
	Done(m *model.Media) bool
	// NeedsScenes 是否需要场景帧输入
	NeedsScenes() bool
	// Load 启动时加载资源
	Load() error
	// Unload 任务结束时释放资源
	Unload() error
	// Process 处理单个媒体，返回 false 或 error 都视为阶段失败
	Process(ctx context.Context, tx *gorm.DB, m *model.Media, scenes []image.Image) (bool, error)
}

// 各阶段名称常量，顺序声明见 BuildRegistry
const (
	StageFaces     = "faces"
	StageEmbedding = "embedding"
	StageAutoTag   = "auto_tag"
)

// BuildRegistry 按固定声明顺序构建启用的阶段列表。
// 不做任何运行时扫描，阶段就是写死的这几个。
func BuildRegistry(active []string, stages ...Stage) []Stage {
	enabled := make(map[string]bool, len(active))
	for _, name := range active {
		enabled[name] = true
	}

	var out []Stage
	for _, s := range stages {
		if enabled[s.Name()] {
			out = append(out, s)
		}
	}
	return out
}
