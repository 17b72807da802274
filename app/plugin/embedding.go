package plugin

import (
	"context"
	"image"

	"photo-fusion/app/logger"
	"photo-fusion/app/ml"
	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// EmbeddingStage 整图向量阶段：取第一张场景帧计算整图向量
type EmbeddingStage struct {
	embedder ml.Embedder
	log      *logger.Logger
}

// NewEmbeddingStage 创建整图向量阶段
func NewEmbeddingStage(embedder ml.Embedder, log *logger.Logger) *EmbeddingStage {
	return &EmbeddingStage{embedder: embedder, log: log}
}

func (s *EmbeddingStage) Name() string       { return StageEmbedding }
func (s *EmbeddingStage) FlagColumn() string { return "embeddings_created" }
func (s *EmbeddingStage) NeedsScenes() bool  { return true }
func (s *EmbeddingStage) Load() error        { return nil }
func (s *EmbeddingStage) Unload() error      { return nil }

func (s *EmbeddingStage) Done(m *model.Media) bool {
	return m.EmbeddingsCreated
}

func (s *EmbeddingStage) Process(ctx context.Context, tx *gorm.DB, m *model.Media, scenes []image.Image) (bool, error) {
	if s.embedder == nil || len(scenes) == 0 {
		// 没有可用画面（如未配置视频解码），视为本阶段无事可做
		return true, nil
	}

	vec, err := s.embedder.EmbedImage(ctx, scenes[0])
	if err != nil {
		return false, err
	}

	m.Embedding = vec
	return true, tx.Model(m).Update("embedding", m.Embedding).Error
}
