package plugin

import (
	"context"
	"image"

	"photo-fusion/app/logger"
	"photo-fusion/app/ml"
	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// AutoTagStage 自动标签阶段：取第一张场景帧识别内容标签
type AutoTagStage struct {
	tagger ml.Tagger
	labels []string // 限定候选标签，空表示由模型自由输出
	source string   // 写入 tags.source 的来源标记
	log    *logger.Logger
}

// NewAutoTagStage 创建自动标签阶段
func NewAutoTagStage(tagger ml.Tagger, log *logger.Logger) *AutoTagStage {
	return &AutoTagStage{tagger: tagger, source: "auto", log: log}
}

// NewCustomTagStage 创建限定标签集的打标阶段，供 auto_tag_custom 任务使用
func NewCustomTagStage(tagger ml.Tagger, labels []string, log *logger.Logger) *AutoTagStage {
	return &AutoTagStage{tagger: tagger, labels: labels, source: "custom", log: log}
}

func (s *AutoTagStage) Name() string       { return StageAutoTag }
func (s *AutoTagStage) FlagColumn() string { return "auto_tagged" }
func (s *AutoTagStage) NeedsScenes() bool  { return true }
func (s *AutoTagStage) Load() error        { return nil }
func (s *AutoTagStage) Unload() error      { return nil }

func (s *AutoTagStage) Done(m *model.Media) bool {
	return m.AutoTagged
}

func (s *AutoTagStage) Process(ctx context.Context, tx *gorm.DB, m *model.Media, scenes []image.Image) (bool, error) {
	if s.tagger == nil || len(scenes) == 0 {
		return true, nil
	}

	results, err := s.tagger.TagImage(ctx, scenes[0], s.labels)
	if err != nil {
		return false, err
	}

	for _, r := range results {
		var tag model.Tag
		if err := tx.Where(model.Tag{Name: r.Label}).
			Attrs(model.Tag{Source: s.source}).
			FirstOrCreate(&tag).Error; err != nil {
			return false, err
		}

		mediaTag := model.MediaTag{MediaID: m.ID, TagID: tag.ID, Confidence: r.Confidence}
		if err := tx.Where(model.MediaTag{MediaID: m.ID, TagID: tag.ID}).
			Assign(map[string]interface{}{"confidence": r.Confidence}).
			FirstOrCreate(&mediaTag).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}
