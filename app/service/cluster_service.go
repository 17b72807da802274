package service

import (
	"fmt"
	"sort"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"
	"photo-fusion/app/utils/dbscan"
	"photo-fusion/app/vectorindex"

	"gorm.io/gorm"
)

// ClusterService 人物聚类引擎。对 person_id 为空的人脸分两步走：
// 先尝试归入已有人物（阈值+间隔+成熟度三重闸门），
// 剩下的做密度聚类形成新人物，最后把互为近邻的新人物合并掉。
// 算法可重复执行：没有新人脸时再跑一遍必须是空操作。
type ClusterService struct {
	db    *gorm.DB
	cfg   *config.Config
	log   *logger.Logger
	lock  *HeavyWriteLock
	index *vectorindex.Index
}

// NewClusterService 创建聚类引擎
func NewClusterService(db *gorm.DB, cfg *config.Config, log *logger.Logger,
	lock *HeavyWriteLock, index *vectorindex.Index) *ClusterService {
	return &ClusterService{db: db, cfg: cfg, log: log, lock: lock, index: index}
}

// LoadIndex 启动时从 persons 表持久化的质心重建内存向量索引
func (s *ClusterService) LoadIndex() error {
	var persons []model.Person
	if err := s.db.Find(&persons).Error; err != nil {
		return fmt.Errorf("读取人物质心失败: %w", err)
	}

	for _, p := range persons {
		if len(p.Centroid) > 0 {
			s.index.Set(p.ID, p.Centroid)
		}
	}
	s.log.Infof("向量索引已重建，共 %d 个人物质心", s.index.Len())
	return nil
}

// Run 执行一轮聚类
func (s *ClusterService) Run(tc *TaskContext) error {
	release, ok := s.lock.Acquire(tc.Context(), "cluster_persons", tc.Cancelled)
	if !ok {
		return errCancelled
	}
	defer release()

	var total int64
	if err := s.db.Model(&model.Face{}).Where("person_id IS NULL").Count(&total).Error; err != nil {
		return fmt.Errorf("统计未归类人脸失败: %w", err)
	}
	tc.SetTotal(total)
	s.log.Infof("👤 未归类人脸 %d 张，开始聚类", total)

	// 本轮新建的人物按创建顺序进入合并候选队列
	var created []uint

	batchSize := s.cfg.Cluster.BatchSize
	var cursor uint
	for {
		if tc.Cancelled() {
			return errCancelled
		}

		// 按人脸ID游标分页，批与批之间顺序确定，中断后可续跑
		var faces []model.Face
		err := s.db.Where("person_id IS NULL AND id > ?", cursor).
			Order("id ASC").Limit(batchSize).
			Find(&faces).Error
		if err != nil {
			return fmt.Errorf("读取人脸批次失败: %w", err)
		}
		if len(faces) == 0 {
			break
		}
		cursor = faces[len(faces)-1].ID

		remainder, err := s.assignBatch(tc, faces)
		if err != nil {
			return err
		}

		if err := s.clusterRemainder(tc, remainder, &created); err != nil {
			return err
		}

		if len(faces) < batchSize {
			break
		}
	}

	// 阶段C：对本轮新建的人物做一次互相合并
	if err := s.mergePass(tc, created); err != nil {
		return err
	}

	// 下游副作用：重建人物共现关系图
	tc.SetStep("重建人物关系")
	if err := s.rebuildRelations(); err != nil {
		return fmt.Errorf("重建人物关系失败: %w", err)
	}

	return nil
}

// assignBatch 阶段A：把一批人脸尝试归入已有人物，返回没归进去的剩余人脸。
// 接受条件（三者都满足）：相似度过阈值、与次优候选拉开足够间隔、
// 候选人物出现次数达标（未成型的人物不吸收新人脸）。
// 受影响人物的出现次数和质心按批重算，不逐脸写库。
func (s *ClusterService) assignBatch(tc *TaskContext, faces []model.Face) ([]model.Face, error) {
	cc := s.cfg.Cluster

	assigned := make(map[uint][]uint) // personID -> faceIDs
	var remainder []model.Face

	// 出现次数查询结果在批内缓存
	counts := make(map[uint]int)
	appearance := func(personID uint) int {
		if n, ok := counts[personID]; ok {
			return n
		}
		var p model.Person
		if err := s.db.Select("appearance_count").First(&p, personID).Error; err != nil {
			counts[personID] = 0
			return 0
		}
		counts[personID] = p.AppearanceCount
		return p.AppearanceCount
	}

	for i := range faces {
		face := &faces[i]
		if tc.Cancelled() {
			return nil, errCancelled
		}
		if len(face.Embedding) == 0 {
			continue // 没有向量的人脸无从归类
		}

		matches := s.index.Search(face.Embedding, 2, nil)
		if len(matches) == 0 {
			remainder = append(remainder, *face)
			continue
		}

		best := matches[0]
		margin := best.Similarity
		if len(matches) > 1 {
			margin = best.Similarity - matches[1].Similarity
		}

		ok := best.Similarity >= cc.AssignThreshold &&
			margin >= cc.AssignMargin &&
			appearance(best.ID) >= cc.MinAppearance
		if !ok {
			remainder = append(remainder, *face)
			continue
		}

		assigned[best.ID] = append(assigned[best.ID], face.ID)
	}

	if len(assigned) == 0 {
		return remainder, nil
	}

	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		for personID, faceIDs := range assigned {
			if err := tx.Model(&model.Face{}).
				Where("id IN ?", faceIDs).
				Update("person_id", personID).Error; err != nil {
				return err
			}
		}
		// 批量重算受影响人物的派生数据
		for personID := range assigned {
			if err := s.recalcPerson(tx, personID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("归类写库失败: %w", err)
	}

	for personID, faceIDs := range assigned {
		tc.AddProcessed(int64(len(faceIDs)))
		s.log.Debugf("人物 %d 吸收 %d 张人脸", personID, len(faceIDs))
	}
	return remainder, nil
}

// clusterAttempt 一次密度聚类尝试的结果
type clusterAttempt struct {
	clusters   map[int][]int
	noiseRatio float64
}

// clusterRemainder 阶段B：对归不进已有人物的人脸做密度聚类。
// 结果退化（零簇或只有一个噪声占主导的簇）时按 0.6 倍几何缩小
// 最小簇大小重试，至多三次，留下得分最好的一次：
// 非噪声簇越多越好，持平时噪声占比低者胜。
func (s *ClusterService) clusterRemainder(tc *TaskContext, faces []model.Face, created *[]uint) error {
	cc := s.cfg.Cluster

	var pool []model.Face
	for _, f := range faces {
		if len(f.Embedding) > 0 {
			pool = append(pool, f)
		}
	}
	if len(pool) < cc.MinFacesPerPerson {
		tc.AddProcessed(int64(len(faces)))
		return nil
	}

	vecs := make([][]float32, len(pool))
	for i, f := range pool {
		vecs[i] = f.Embedding
	}

	// 最小簇大小先夹到样本数和每人最少人脸数之间
	minClusterSize := cc.MinClusterSize
	if minClusterSize > len(pool) {
		minClusterSize = len(pool)
	}
	if minClusterSize < cc.MinFacesPerPerson {
		minClusterSize = cc.MinFacesPerPerson
	}

	// 密度聚类本身的参数各次尝试相同，只跑一次，
	// 放宽的只是之后按最小簇大小做的过滤
	if tc.Cancelled() {
		return errCancelled
	}
	labels := dbscan.Run(vecs, cc.Eps, cc.MinSamples, vectorindex.CosineDistance)

	var best *clusterAttempt
	for attempt := 0; attempt < 3; attempt++ {
		result := evaluateAttempt(labels, minClusterSize, len(pool))

		if best == nil || betterAttempt(result, best) {
			best = result
		}
		if len(best.clusters) > 1 || (len(best.clusters) == 1 && best.noiseRatio < 0.5) {
			break
		}

		// 退化结果：几何放宽最小簇大小再试
		relaxed := int(float64(minClusterSize) * 0.6)
		if relaxed < cc.MinFacesPerPerson {
			relaxed = cc.MinFacesPerPerson
		}
		if relaxed == minClusterSize {
			break
		}
		minClusterSize = relaxed
	}

	for _, members := range sortedClusters(best.clusters) {
		if tc.Cancelled() {
			return errCancelled
		}
		personID, ok := s.materializeCluster(pool, members)
		if ok {
			*created = append(*created, personID)
		}
	}

	tc.AddProcessed(int64(len(faces)))
	return nil
}

// materializeCluster 校验并落库一个候选簇。
// 闸门：簇大小、紧凑度（距质心最大距离）、来源媒体多样性。
// 每个簇单独一个事务提交，中途崩溃最多丢一个人物的工作量。
func (s *ClusterService) materializeCluster(pool []model.Face, members []int) (uint, bool) {
	cc := s.cfg.Cluster

	if len(members) < cc.MinFacesPerPerson {
		return 0, false
	}

	vecs := make([][]float32, len(members))
	for i, idx := range members {
		vecs[i] = pool[idx].Embedding
	}
	centroid := vectorindex.Mean(vecs)

	// 紧凑度：任何成员离质心太远说明簇是杂凑的
	mediaSet := make(map[uint]bool)
	repIdx, repSim := members[0], -1.0
	for _, idx := range members {
		if vectorindex.CosineDistance(pool[idx].Embedding, centroid) > cc.MaxRadius {
			return 0, false
		}
		mediaSet[pool[idx].MediaID] = true
		if sim := vectorindex.Cosine(pool[idx].Embedding, centroid); sim > repSim {
			repSim = sim
			repIdx = idx
		}
	}
	if len(mediaSet) < cc.MinDistinctMedia {
		return 0, false
	}

	person := model.Person{Centroid: centroid}
	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		if err := tx.Create(&person).Error; err != nil {
			return err
		}

		faceIDs := make([]uint, len(members))
		for i, idx := range members {
			faceIDs[i] = pool[idx].ID
		}
		if err := tx.Model(&model.Face{}).
			Where("id IN ?", faceIDs).
			Update("person_id", person.ID).Error; err != nil {
			return err
		}

		profileID := pool[repIdx].ID
		return tx.Model(&person).Updates(map[string]interface{}{
			"name":             fmt.Sprintf("未命名人物 %d", person.ID),
			"appearance_count": len(members),
			"profile_face_id":  profileID,
		}).Error
	})
	if err != nil {
		s.log.Errorf("新建人物落库失败: %v", err)
		return 0, false
	}

	s.index.Set(person.ID, centroid)
	s.log.Infof("🆕 新建人物 %d（%d 张人脸，%d 个来源媒体）", person.ID, len(members), len(mediaSet))
	return person.ID, true
}

// evaluateAttempt 按最小簇大小过滤聚类结果，小簇解散回噪声
func evaluateAttempt(labels []int, minClusterSize, n int) *clusterAttempt {
	raw := dbscan.Clusters(labels)

	clusters := make(map[int][]int)
	clustered := 0
	for label, members := range raw {
		if len(members) >= minClusterSize {
			clusters[label] = members
			clustered += len(members)
		}
	}

	return &clusterAttempt{
		clusters:   clusters,
		noiseRatio: float64(n-clustered) / float64(n),
	}
}

// betterAttempt 候选是否优于当前最优：簇多者胜，持平时噪声占比低者胜
func betterAttempt(candidate, current *clusterAttempt) bool {
	if len(candidate.clusters) != len(current.clusters) {
		return len(candidate.clusters) > len(current.clusters)
	}
	return candidate.noiseRatio < current.noiseRatio
}

// sortedClusters 按簇标签排序返回成员列表，保证落库顺序确定
func sortedClusters(clusters map[int][]int) [][]int {
	labels := make([]int, 0, len(clusters))
	for label := range clusters {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	out := make([][]int, 0, len(labels))
	for _, label := range labels {
		out = append(out, clusters[label])
	}
	return out
}
