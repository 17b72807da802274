package service

import (
	"fmt"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"
	"photo-fusion/app/utils/phash"
	"photo-fusion/app/utils/unionfind"

	"gorm.io/gorm"
)

// DuplicateService 重复检测引擎。两个阶段：
// 精确阶段按感知哈希完全相同分组（图片、视频各自一套），
// 近似阶段只对视频做汉明距离并查集分组。
// 分组写入采用并入最小组ID的策略，重复执行结果收敛。
type DuplicateService struct {
	db   *gorm.DB
	cfg  *config.Config
	log  *logger.Logger
	lock *HeavyWriteLock
}

// NewDuplicateService 创建重复检测引擎
func NewDuplicateService(db *gorm.DB, cfg *config.Config, log *logger.Logger,
	lock *HeavyWriteLock) *DuplicateService {
	return &DuplicateService{db: db, cfg: cfg, log: log, lock: lock}
}

// Run 执行一轮重复检测
func (s *DuplicateService) Run(tc *TaskContext) error {
	release, ok := s.lock.Acquire(tc.Context(), "find_duplicates", tc.Cancelled)
	if !ok {
		return errCancelled
	}
	defer release()

	var total int64
	if err := s.db.Model(&model.Media{}).
		Where("perceptual_hash <> '' AND missing_since IS NULL").
		Count(&total).Error; err != nil {
		return fmt.Errorf("统计带哈希媒体失败: %w", err)
	}
	tc.SetTotal(total)

	for _, mediaType := range []string{model.MediaTypeImage, model.MediaTypeVideo} {
		if err := s.exactPhase(tc, mediaType); err != nil {
			return err
		}
	}

	if s.cfg.Duplicate.NearVideoEnabled {
		if err := s.nearVideoPhase(tc); err != nil {
			return err
		}
	}

	// 收尾：解散掉成员数不足的组
	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		return pruneSmallGroups(tx)
	})
	if err != nil {
		return fmt.Errorf("清理空组失败: %w", err)
	}
	return nil
}

type hashedMedia struct {
	ID             uint
	PerceptualHash string
}

// exactPhase 精确阶段：同类型下感知哈希完全一致的媒体归为一组
func (s *DuplicateService) exactPhase(tc *TaskContext, mediaType string) error {
	tc.SetStep(fmt.Sprintf("精确匹配（%s）", mediaType))

	items, err := s.loadHashed(mediaType)
	if err != nil {
		return err
	}

	byHash := make(map[string][]uint)
	for _, m := range items {
		byHash[m.PerceptualHash] = append(byHash[m.PerceptualHash], m.ID)
	}

	for hash, ids := range byHash {
		if tc.Cancelled() {
			return errCancelled
		}
		if len(ids) >= 2 {
			if err := s.createOrUpdateGroup(mediaType, ids); err != nil {
				return fmt.Errorf("写入重复组失败（哈希 %s）: %w", hash, err)
			}
		}
		tc.AddProcessed(int64(len(ids)))
	}
	return nil
}

// nearVideoPhase 近似阶段：视频之间汉明距离不超过阈值的并入同组。
// 两两比对是平方量级，但只扫视频，典型库的视频数远小于照片数。
func (s *DuplicateService) nearVideoPhase(tc *TaskContext) error {
	tc.SetStep("近似匹配（视频）")

	items, err := s.loadHashed(model.MediaTypeVideo)
	if err != nil {
		return err
	}
	if len(items) < 2 {
		return nil
	}

	threshold := s.cfg.Duplicate.HammingThreshold
	uf := unionfind.New(len(items))
	for i := 0; i < len(items); i++ {
		if tc.Cancelled() {
			return errCancelled
		}
		for j := i + 1; j < len(items); j++ {
			d := phash.Distance(items[i].PerceptualHash, items[j].PerceptualHash)
			if d >= 0 && d <= threshold {
				uf.Union(i, j)
			}
		}
	}

	for _, members := range uf.Groups(2) {
		if tc.Cancelled() {
			return errCancelled
		}
		ids := make([]uint, len(members))
		for k, idx := range members {
			ids[k] = items[idx].ID
		}
		if err := s.createOrUpdateGroup(model.MediaTypeVideo, ids); err != nil {
			return fmt.Errorf("写入近似重复组失败: %w", err)
		}
	}
	return nil
}

func (s *DuplicateService) loadHashed(mediaType string) ([]hashedMedia, error) {
	var items []hashedMedia
	err := s.db.Model(&model.Media{}).
		Select("id, perceptual_hash").
		Where("media_type = ? AND perceptual_hash <> '' AND missing_since IS NULL", mediaType).
		Order("id ASC").
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("读取媒体哈希失败: %w", err)
	}
	return items, nil
}

// createOrUpdateGroup 把一批媒体并入重复组。
// 成员已分属多个组时全部并入组ID最小的那个，避免同一内容被拆在两处。
func (s *DuplicateService) createOrUpdateGroup(mediaType string, mediaIDs []uint) error {
	return database.WithRetry(s.db, func(tx *gorm.DB) error {
		var existing []model.DuplicateMember
		if err := tx.Where("media_id IN ?", mediaIDs).
			Find(&existing).Error; err != nil {
			return err
		}

		groupSet := make(map[uint]bool)
		for _, m := range existing {
			groupSet[m.GroupID] = true
		}

		var groupID uint
		switch len(groupSet) {
		case 0:
			group := model.DuplicateGroup{MediaType: mediaType}
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
			groupID = group.ID
		default:
			for id := range groupSet {
				if groupID == 0 || id < groupID {
					groupID = id
				}
			}
			// 其余组整体并入目标组
			for id := range groupSet {
				if id == groupID {
					continue
				}
				if err := tx.Model(&model.DuplicateMember{}).
					Where("group_id = ?", id).
					Update("group_id", groupID).Error; err != nil {
					return err
				}
				if err := tx.Delete(&model.DuplicateGroup{}, id).Error; err != nil {
					return err
				}
			}
		}

		member := make(map[uint]bool)
		var grouped []model.DuplicateMember
		if err := tx.Where("group_id = ?", groupID).
			Find(&grouped).Error; err != nil {
			return err
		}
		for _, m := range grouped {
			member[m.MediaID] = true
		}

		for _, mediaID := range mediaIDs {
			if member[mediaID] {
				continue
			}
			if err := tx.Create(&model.DuplicateMember{
				GroupID: groupID,
				MediaID: mediaID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
