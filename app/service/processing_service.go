package service

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/logger"
	"photo-fusion/app/mediainfo"
	"photo-fusion/app/model"
	"photo-fusion/app/plugin"
	"photo-fusion/app/utils/phash"

	"github.com/disintegration/imaging"
	"gorm.io/gorm"
)

// 场景帧缓存目录
const sceneCacheDir = "data/scenes"

// ProcessingService 媒体处理流水线：按声明顺序跑启用的处理阶段。
// 哪些媒体算"待处理"由启用阶段和媒体行上的标记列共同决定，
// 每次运行重新推导，插件配置变了"完成"的含义也跟着变。
type ProcessingService struct {
	db      *gorm.DB
	cfg     *config.Config
	log     *logger.Logger
	lock    *HeavyWriteLock
	decoder mediainfo.Decoder
	stages  []plugin.Stage
}

// NewProcessingService 创建处理流水线
func NewProcessingService(db *gorm.DB, cfg *config.Config, log *logger.Logger,
	lock *HeavyWriteLock, decoder mediainfo.Decoder, stages []plugin.Stage) *ProcessingService {
	return &ProcessingService{
		db:      db,
		cfg:     cfg,
		log:     log,
		lock:    lock,
		decoder: decoder,
		stages:  stages,
	}
}

// Run 执行一轮媒体处理
func (s *ProcessingService) Run(tc *TaskContext) error {
	return s.run(tc, s.stages)
}

// RunCustomTag 用限定标签集重打全库标签：
// 先清掉 auto_tagged 标记，再只跑自定义打标阶段
func (s *ProcessingService) RunCustomTag(tc *TaskContext, stage plugin.Stage) error {
	if err := s.db.Model(&model.Media{}).
		Where("auto_tagged = ?", true).
		Update("auto_tagged", false).Error; err != nil {
		return fmt.Errorf("重置打标标记失败: %w", err)
	}
	return s.run(tc, []plugin.Stage{stage})
}

func (s *ProcessingService) run(tc *TaskContext, stages []plugin.Stage) error {
	if len(stages) == 0 {
		s.log.Infof("没有启用任何处理插件，无事可做")
		return nil
	}

	for _, st := range stages {
		if err := st.Load(); err != nil {
			return fmt.Errorf("加载插件 %s 失败: %w", st.Name(), err)
		}
	}
	defer func() {
		for _, st := range stages {
			if err := st.Unload(); err != nil {
				s.log.Warnf("卸载插件 %s 失败: %v", st.Name(), err)
			}
		}
	}()

	release, ok := s.lock.Acquire(tc.Context(), "process_media", tc.Cancelled)
	if !ok {
		return errCancelled
	}
	defer release()

	total, err := s.countDue(stages)
	if err != nil {
		return fmt.Errorf("统计待处理媒体失败: %w", err)
	}
	tc.SetTotal(total)
	s.log.Infof("🎞️ 待处理媒体 %d 个，启用阶段: %s", total, stageNames(stages))

	batchSize := s.cfg.Processing.BatchSize
	for {
		if tc.Cancelled() {
			return errCancelled
		}

		batch, err := s.fetchDue(stages, batchSize)
		if err != nil {
			return fmt.Errorf("读取待处理批次失败: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if tc.Cancelled() {
				return errCancelled
			}
			s.processOne(tc, &batch[i], stages)
			tc.AddProcessed(1)
		}

		if len(batch) < batchSize {
			break
		}
	}

	// 运行期间可能有新媒体进来，按剩余量校正总数
	remaining, err := s.countDue(stages)
	if err == nil {
		tc.SetTotal(tc.Processed() + remaining)
	}
	return nil
}

// dueQuery 待处理条件：文件未丢失，且任一启用阶段的标记为假；
// 有阶段需要场景帧时，场景未提取也算待处理
func (s *ProcessingService) dueQuery(stages []plugin.Stage) *gorm.DB {
	q := s.db.Model(&model.Media{}).Where("missing_since IS NULL")

	cond := s.db.Where("1 = 0")
	for _, st := range stages {
		cond = cond.Or(st.FlagColumn() + " = false")
	}
	if anyNeedsScenes(stages) {
		cond = cond.Or("scenes_extracted = false")
	}
	return q.Where(cond)
}

func (s *ProcessingService) countDue(stages []plugin.Stage) (int64, error) {
	var n int64
	err := s.dueQuery(stages).Count(&n).Error
	return n, err
}

// fetchDue 按时长升序取一批待处理媒体，排序键稳定保证断点续跑有确定顺序
func (s *ProcessingService) fetchDue(stages []plugin.Stage, limit int) ([]model.Media, error) {
	var batch []model.Media
	err := s.dueQuery(stages).
		Order("duration ASC, id ASC").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

// processOne 处理单个媒体。任何阶段失败都按"毒丸"策略处理：
// 当前阶段连同所有下游标记一并置真，避免坏条目被无限重新选中，
// 失败详情落入失败日志供人工跟进，不做自动重试。
func (s *ProcessingService) processOne(tc *TaskContext, m *model.Media, stages []plugin.Stage) {
	tc.SetItem(m.Path)

	// 上次扫描之后文件可能已经消失，先核对磁盘状态
	if _, err := os.Stat(m.Path); err != nil {
		now := time.Now()
		if err := s.db.Model(m).Update("missing_since", &now).Error; err != nil {
			s.log.Errorf("标记丢失失败 %s: %v", m.Path, err)
		}
		s.log.Warnf("媒体已不在磁盘上，跳过处理: %s", m.Path)
		return
	}

	var scenes []image.Image
	if anyNeedsScenes(stages) {
		var err error
		scenes, err = s.scenes(m)
		if err != nil {
			tc.Fail(m.Path, "scenes", err.Error())
			s.poisonPill(m, stages, 0)
			return
		}
	}

	for i, st := range stages {
		if st.Done(m) {
			continue
		}
		tc.SetStep(st.Name())

		sceneInput := scenes
		if !st.NeedsScenes() {
			sceneInput = nil
		}

		var stageOK bool
		err := database.WithRetry(s.db, func(tx *gorm.DB) error {
			ok, perr := st.Process(tc.Context(), tx, m, sceneInput)
			if perr != nil {
				return perr
			}
			if !ok {
				stageOK = false
				return nil
			}
			stageOK = true
			// 标记和它背书的工作在同一个事务里落库
			return tx.Model(m).Update(st.FlagColumn(), true).Error
		})

		if err != nil || !stageOK {
			reason := "阶段返回失败"
			if err != nil {
				reason = err.Error()
			}
			tc.Fail(m.Path, st.Name(), reason)
			s.poisonPill(m, stages, i)
			return
		}
		s.markDone(m, st.FlagColumn())
	}
}

// poisonPill 把第 from 个阶段起的所有标记置真
func (s *ProcessingService) poisonPill(m *model.Media, stages []plugin.Stage, from int) {
	updates := map[string]interface{}{"scenes_extracted": true}
	for _, st := range stages[from:] {
		updates[st.FlagColumn()] = true
	}
	if err := s.db.Model(m).Updates(updates).Error; err != nil {
		s.log.Errorf("写毒丸标记失败 %s: %v", m.Path, err)
	}
	s.markDone(m, "scenes_extracted")
	for _, st := range stages[from:] {
		s.markDone(m, st.FlagColumn())
	}
}

// markDone 同步内存里的标记，避免同一轮里重复处理
func (s *ProcessingService) markDone(m *model.Media, column string) {
	switch column {
	case "scenes_extracted":
		m.ScenesExtracted = true
	case "faces_extracted":
		m.FacesExtracted = true
	case "embeddings_created":
		m.EmbeddingsCreated = true
	case "auto_tagged":
		m.AutoTagged = true
	}
}

// scenes 取得媒体的场景帧：图片即本体；视频优先用缓存帧，
// 没有缓存再找解码器提帧并缓存。视频首帧顺带补感知哈希。
func (s *ProcessingService) scenes(m *model.Media) ([]image.Image, error) {
	if !m.IsVideo() {
		frames, err := s.decoder.ExtractScenes(m.Path, 1)
		if err != nil {
			return nil, err
		}
		s.setScenesExtracted(m)
		return frames, nil
	}

	dir := filepath.Join(sceneCacheDir, fmt.Sprintf("%d", m.ID))
	if m.ScenesExtracted {
		if frames := loadCachedScenes(dir); len(frames) > 0 {
			return frames, nil
		}
	}

	frames, err := s.decoder.ExtractScenes(m.Path, s.cfg.Processing.SceneCount)
	if err != nil {
		return nil, err
	}

	if len(frames) > 0 {
		if err := os.MkdirAll(dir, 0755); err == nil {
			for i, f := range frames {
				_ = imaging.Save(f, filepath.Join(dir, fmt.Sprintf("scene_%03d.jpg", i)), imaging.JPEGQuality(85))
			}
		}
		// 视频的感知哈希来自首帧
		if m.PerceptualHash == "" {
			if err := s.db.Model(m).Update("perceptual_hash", phash.DHash(frames[0])).Error; err != nil {
				s.log.Warnf("写视频感知哈希失败 %s: %v", m.Path, err)
			}
		}
	}

	s.setScenesExtracted(m)
	return frames, nil
}

func (s *ProcessingService) setScenesExtracted(m *model.Media) {
	if m.ScenesExtracted {
		return
	}
	if err := s.db.Model(m).Update("scenes_extracted", true).Error; err != nil {
		s.log.Errorf("写场景标记失败 %s: %v", m.Path, err)
	}
	m.ScenesExtracted = true
}

// loadCachedScenes 从缓存目录读回场景帧
func loadCachedScenes(dir string) []image.Image {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jpg" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames []image.Image
	for _, name := range names {
		if img, err := imaging.Open(filepath.Join(dir, name)); err == nil {
			frames = append(frames, img)
		}
	}
	return frames
}

func anyNeedsScenes(stages []plugin.Stage) bool {
	for _, st := range stages {
		if st.NeedsScenes() {
			return true
		}
	}
	return false
}

func stageNames(stages []plugin.Stage) string {
	out := ""
	for i, st := range stages {
		if i > 0 {
			out += ", "
		}
		out += st.Name()
	}
	return out
}
