package service

import (
	"fmt"
	"os"
	"time"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// CleanService 丢失文件清理：确认长期丢失的文件并最终清除其记录。
// 丢失处理分三档：刚消失的打上 missing_since；超过宽限期的确认丢失；
// 确认丢失超过清理期的连同人脸、缩略图、重复分组成员一起删除。
type CleanService struct {
	db     *gorm.DB
	cfg    *config.Config
	log    *logger.Logger
	lock   *HeavyWriteLock
	thumbs Thumbnailer
}

// NewCleanService 创建清理服务
func NewCleanService(db *gorm.DB, cfg *config.Config, log *logger.Logger,
	lock *HeavyWriteLock, thumbs Thumbnailer) *CleanService {
	return &CleanService{db: db, cfg: cfg, log: log, lock: lock, thumbs: thumbs}
}

// 清理批量大小
const cleanBatchSize = 500

// Run 执行一次丢失文件清理
func (s *CleanService) Run(tc *TaskContext) error {
	release, ok := s.lock.Acquire(tc.Context(), "clean_missing_files", tc.Cancelled)
	if !ok {
		return errCancelled
	}
	defer release()

	var total int64
	if err := s.db.Model(&model.Media{}).Count(&total).Error; err != nil {
		return fmt.Errorf("统计媒体数量失败: %w", err)
	}
	tc.SetTotal(total)
	tc.SetStep("核对文件存在性")

	now := time.Now()
	grace := time.Duration(s.cfg.Library.MissingGraceDays) * 24 * time.Hour
	purge := time.Duration(s.cfg.Library.MissingPurgeDays) * 24 * time.Hour

	var cursor uint
	for {
		if tc.Cancelled() {
			return errCancelled
		}

		var batch []model.Media
		err := s.db.Where("id > ?", cursor).
			Order("id ASC").Limit(cleanBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("读取媒体批次失败: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		if err := s.cleanBatch(tc, batch, now, grace, purge); err != nil {
			return err
		}

		if len(batch) < cleanBatchSize {
			break
		}
	}

	return nil
}

// cleanBatch 核对一批媒体并按丢失状态推进
func (s *CleanService) cleanBatch(tc *TaskContext, batch []model.Media, now time.Time, grace, purge time.Duration) error {
	var (
		restored     []uint
		newlyMissing []uint
		confirmed    []uint
		purged       []model.Media
	)

	for i := range batch {
		m := &batch[i]
		tc.SetItem(m.Path)

		_, statErr := os.Stat(m.Path)
		exists := statErr == nil

		switch {
		case exists:
			if m.MissingSince != nil {
				restored = append(restored, m.ID)
			}
		case m.MissingSince == nil:
			newlyMissing = append(newlyMissing, m.ID)
		case m.MissingConfirmed:
			if now.Sub(*m.MissingSince) > purge {
				purged = append(purged, *m)
			}
		default:
			if now.Sub(*m.MissingSince) > grace {
				confirmed = append(confirmed, m.ID)
			}
		}
	}

	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		if len(restored) > 0 {
			if err := tx.Model(&model.Media{}).Where("id IN ?", restored).
				Updates(map[string]interface{}{"missing_since": nil, "missing_confirmed": false}).Error; err != nil {
				return err
			}
		}
		if len(newlyMissing) > 0 {
			if err := tx.Model(&model.Media{}).Where("id IN ?", newlyMissing).
				Update("missing_since", now).Error; err != nil {
				return err
			}
		}
		if len(confirmed) > 0 {
			if err := tx.Model(&model.Media{}).Where("id IN ?", confirmed).
				Update("missing_confirmed", true).Error; err != nil {
				return err
			}
		}
		for _, m := range purged {
			if err := s.purgeOne(tx, m); err != nil {
				return err
			}
		}

		// 清除成员后分组可能不足 2 人，顺手修剪
		if len(purged) > 0 {
			if err := pruneSmallGroups(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range purged {
		s.thumbs.Remove(m.ThumbnailPath)
		s.log.Infof("🗑️ 已清除长期丢失的媒体: %s", m.Path)
	}

	tc.AddProcessed(int64(len(batch)))
	if len(newlyMissing) > 0 || len(confirmed) > 0 || len(restored) > 0 || len(purged) > 0 {
		s.log.Infof("丢失状态变更: 新丢失=%d 确认丢失=%d 恢复=%d 清除=%d",
			len(newlyMissing), len(confirmed), len(restored), len(purged))
	}
	return nil
}

// purgeOne 删除单个媒体及其关联数据
func (s *CleanService) purgeOne(tx *gorm.DB, m model.Media) error {
	if err := tx.Where("media_id = ?", m.ID).Delete(&model.Face{}).Error; err != nil {
		return err
	}
	if err := tx.Where("media_id = ?", m.ID).Delete(&model.DuplicateMember{}).Error; err != nil {
		return err
	}
	if err := tx.Where("media_id = ?", m.ID).Delete(&model.MediaTag{}).Error; err != nil {
		return err
	}
	return tx.Delete(&model.Media{}, m.ID).Error
}

// pruneSmallGroups 删除成员数不足 2 的重复分组及其残余成员
func pruneSmallGroups(tx *gorm.DB) error {
	var groupIDs []uint
	err := tx.Model(&model.DuplicateMember{}).
		Select("group_id").
		Group("group_id").
		Having("COUNT(*) < 2").
		Pluck("group_id", &groupIDs).Error
	if err != nil {
		return err
	}

	// 没有任何成员的空分组也一并清掉
	var emptyIDs []uint
	err = tx.Model(&model.DuplicateGroup{}).
		Where("id NOT IN (?)", tx.Model(&model.DuplicateMember{}).Select("DISTINCT group_id")).
		Pluck("id", &emptyIDs).Error
	if err != nil {
		return err
	}
	groupIDs = append(groupIDs, emptyIDs...)

	if len(groupIDs) == 0 {
		return nil
	}

	if err := tx.Where("group_id IN ?", groupIDs).Delete(&model.DuplicateMember{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", groupIDs).Delete(&model.DuplicateGroup{}).Error
}
