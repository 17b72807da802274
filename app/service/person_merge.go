package service

import (
	"errors"
	"fmt"

	"photo-fusion/app/database"
	"photo-fusion/app/model"
	"photo-fusion/app/vectorindex"

	"gorm.io/gorm"
)

// mergePass 阶段C：对本轮新建的人物做一次吸收合并。
// FIFO 队列逐个出队，在索引里找最近的其他人物，相似度换算成
// 百分比后过合并阈值就合并；幸存者改变后重新入队，
// 直到队列里的人物都找不到够近的邻居为止。
func (s *ClusterService) mergePass(tc *TaskContext, created []uint) error {
	if len(created) == 0 {
		return nil
	}
	tc.SetStep("合并相近人物")

	queue := append([]uint(nil), created...)
	for len(queue) > 0 {
		if tc.Cancelled() {
			return errCancelled
		}
		id := queue[0]
		queue = queue[1:]

		var person model.Person
		if err := s.db.First(&person, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // 已在先前的合并中被吸收
			}
			return fmt.Errorf("读取人物 %d 失败: %w", id, err)
		}
		if len(person.Centroid) == 0 {
			continue
		}

		matches := s.index.Search(person.Centroid, 1, func(other uint) bool {
			return other != id
		})
		if len(matches) == 0 {
			continue
		}

		simPct := matches[0].Similarity * 100
		if simPct < s.cfg.Cluster.MergeThresholdPct {
			continue
		}

		var other model.Person
		if err := s.db.First(&other, matches[0].ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return fmt.Errorf("读取人物 %d 失败: %w", matches[0].ID, err)
		}

		survivor, err := s.mergePair(&person, &other)
		if err != nil {
			return err
		}
		s.log.Infof("🔀 人物 %d 与 %d 合并（相似度 %.1f%%），幸存者 %d",
			person.ID, other.ID, simPct, survivor)

		// 幸存者质心变了，可能又够得着新的邻居
		queue = append(queue, survivor)
	}
	return nil
}

// MergePersons 手动合并两个人物，保留出现次数多的一方。
// 给管理接口用，内部与自动合并走同一条路径。
func (s *ClusterService) MergePersons(aID, bID uint) (uint, error) {
	if aID == bID {
		return 0, fmt.Errorf("不能与自身合并")
	}

	var a, b model.Person
	if err := s.db.First(&a, aID).Error; err != nil {
		return 0, fmt.Errorf("人物 %d 不存在", aID)
	}
	if err := s.db.First(&b, bID).Error; err != nil {
		return 0, fmt.Errorf("人物 %d 不存在", bID)
	}

	survivor, err := s.mergePair(&a, &b)
	if err != nil {
		return 0, err
	}
	if err := s.rebuildRelations(); err != nil {
		s.log.Errorf("合并后重建人物关系失败: %v", err)
	}
	return survivor, nil
}

// mergePair 把两个人物合并为一个。出现次数多者幸存，持平时ID小者幸存。
// 败者的人脸和关系记录全部转给幸存者，然后删除败者并重算幸存者的派生数据。
func (s *ClusterService) mergePair(a, b *model.Person) (uint, error) {
	survivor, loser := a, b
	if loser.AppearanceCount > survivor.AppearanceCount ||
		(loser.AppearanceCount == survivor.AppearanceCount && loser.ID < survivor.ID) {
		survivor, loser = loser, survivor
	}

	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Model(&model.Face{}).
			Where("person_id = ?", loser.ID).
			Update("person_id", survivor.ID).Error; err != nil {
			return err
		}

		if survivor.ProfileFaceID == nil && loser.ProfileFaceID != nil {
			if err := tx.Model(survivor).
				Update("profile_face_id", *loser.ProfileFaceID).Error; err != nil {
				return err
			}
		}

		if err := reassignRelations(tx, loser.ID, survivor.ID); err != nil {
			return err
		}

		if err := tx.Delete(&model.Person{}, loser.ID).Error; err != nil {
			return err
		}

		return s.recalcPerson(tx, survivor.ID)
	})
	if err != nil {
		return 0, fmt.Errorf("合并人物 %d <- %d 失败: %w", survivor.ID, loser.ID, err)
	}

	s.index.Delete(loser.ID)
	return survivor.ID, nil
}

// reassignRelations 把败者的共现关系转到幸存者名下，撞上已有配对就累加次数
func reassignRelations(tx *gorm.DB, loserID, survivorID uint) error {
	var relations []model.PersonRelation
	if err := tx.Where("person_a_id = ? OR person_b_id = ?", loserID, loserID).
		Find(&relations).Error; err != nil {
		return err
	}

	for _, rel := range relations {
		other := rel.PersonAID
		if other == loserID {
			other = rel.PersonBID
		}
		if err := tx.Delete(&model.PersonRelation{}, rel.ID).Error; err != nil {
			return err
		}
		if other == survivorID {
			continue // 两人之间的旧关系合并后不再有意义
		}

		aID, bID := survivorID, other
		if bID < aID {
			aID, bID = bID, aID
		}
		var existing model.PersonRelation
		err := tx.Where("person_a_id = ? AND person_b_id = ?", aID, bID).
			First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).
				Update("co_appearances", existing.CoAppearances+rel.CoAppearances).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&model.PersonRelation{
				PersonAID:     aID,
				PersonBID:     bID,
				CoAppearances: rel.CoAppearances,
			}).Error; err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// recalcPerson 重算一个人物的出现次数和质心并同步到向量索引。
// 人脸清零的人物直接删除。
func (s *ClusterService) recalcPerson(tx *gorm.DB, personID uint) error {
	var faces []model.Face
	if err := tx.Select("id, embedding").
		Where("person_id = ?", personID).
		Find(&faces).Error; err != nil {
		return err
	}

	if len(faces) == 0 {
		if err := tx.Delete(&model.Person{}, personID).Error; err != nil {
			return err
		}
		s.index.Delete(personID)
		return nil
	}

	var vecs [][]float32
	for _, f := range faces {
		if len(f.Embedding) > 0 {
			vecs = append(vecs, f.Embedding)
		}
	}

	updates := map[string]interface{}{"appearance_count": len(faces)}
	var centroid []float32
	if len(vecs) > 0 {
		centroid = vectorindex.Mean(vecs)
		updates["centroid"] = centroid
	}
	if err := tx.Model(&model.Person{}).Where("id = ?", personID).
		Updates(updates).Error; err != nil {
		return err
	}

	if len(centroid) > 0 {
		s.index.Set(personID, centroid)
	}
	return nil
}

// rebuildRelations 从人脸归属全量重建人物共现关系图。
// 同一媒体里出现的每对人物记一次共现，替换式写入。
func (s *ClusterService) rebuildRelations() error {
	type row struct {
		MediaID  uint
		PersonID uint
	}
	var rows []row
	err := s.db.Model(&model.Face{}).
		Select("media_id, person_id").
		Where("person_id IS NOT NULL").
		Order("media_id ASC").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	// 每个媒体内去重后统计人物配对
	pairCounts := make(map[[2]uint]int)
	var mediaID uint
	persons := make(map[uint]bool)
	flush := func() {
		ids := make([]uint, 0, len(persons))
		for id := range persons {
			ids = append(ids, id)
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if b < a {
					a, b = b, a
				}
				pairCounts[[2]uint{a, b}]++
			}
		}
		persons = make(map[uint]bool)
	}
	for _, r := range rows {
		if r.MediaID != mediaID {
			flush()
			mediaID = r.MediaID
		}
		persons[r.PersonID] = true
	}
	flush()

	return database.WithRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.PersonRelation{}).Error; err != nil {
			return err
		}
		var batch []model.PersonRelation
		for pair, count := range pairCounts {
			batch = append(batch, model.PersonRelation{
				PersonAID:     pair[0],
				PersonBID:     pair[1],
				CoAppearances: count,
			})
		}
		if len(batch) == 0 {
			return nil
		}
		return tx.CreateInBatches(batch, 200).Error
	})
}
