package plugin

import (
	"context"
	"image"

	"photo-fusion/app/logger"
	"photo-fusion/app/ml"
	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// FacesStage 人脸提取阶段：对每张场景帧做人脸检测并入库
type FacesStage struct {
	detector ml.FaceDetector
	log      *logger.Logger
}

// NewFacesStage 创建人脸提取阶段
func NewFacesStage(detector ml.FaceDetector, log *logger.Logger) *FacesStage {
	return &FacesStage{detector: detector, log: log}
}

func (s *FacesStage) Name() string       { return StageFaces }
func (s *FacesStage) FlagColumn() string { return "faces_extracted" }
func (s *FacesStage) NeedsScenes() bool  { return true }
func (s *FacesStage) Load() error        { return nil }
func (s *FacesStage) Unload() error      { return nil }

func (s *FacesStage) Done(m *model.Media) bool {
	return m.FacesExtracted
}

// Process 检测并写入人脸。重跑前先清掉本媒体的未归类人脸，保证幂等
func (s *FacesStage) Process(ctx context.Context, tx *gorm.DB, m *model.Media, scenes []image.Image) (bool, error) {
	if s.detector == nil {
		return false, nil
	}

	if err := tx.Where("media_id = ? AND person_id IS NULL", m.ID).Delete(&model.Face{}).Error; err != nil {
		return false, err
	}

	total := 0
	for _, scene := range scenes {
		detected, err := s.detector.DetectFaces(ctx, scene)
		if err != nil {
			return false, err
		}

		for _, d := range detected {
			face := model.Face{
				MediaID:    m.ID,
				X:          d.X,
				Y:          d.Y,
				W:          d.W,
				H:          d.H,
				Confidence: d.Confidence,
				Embedding:  d.Embedding,
			}
			if err := tx.Create(&face).Error; err != nil {
				return false, err
			}
			total++
		}
	}

	if total > 0 {
		s.log.Debugf("媒体 %d 提取到 %d 张人脸", m.ID, total)
	}
	return true, nil
}
