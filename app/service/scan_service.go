package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/logger"
	"photo-fusion/app/mediainfo"
	"photo-fusion/app/model"
	"photo-fusion/app/utils/phash"

	"github.com/disintegration/imaging"
	"gorm.io/gorm"
)

// MediaProber 媒体元信息探测能力
type MediaProber interface {
	Probe(path string) (*mediainfo.Info, error)
}

// Thumbnailer 缩略图生成能力
type Thumbnailer interface {
	Generate(mediaID uint, sourcePath string, isImage bool) (string, error)
	Remove(thumbPath string)
}

// ScanService 扫描引擎：走查媒体库根目录，和已知记录做差异，
// 分批插入新文件并生成缩略图，同时恢复重新出现的丢失文件
type ScanService struct {
	db     *gorm.DB
	cfg    *config.Config
	log    *logger.Logger
	lock   *HeavyWriteLock
	prober MediaProber
	thumbs Thumbnailer

	imageExts map[string]bool
	videoExts map[string]bool
}

// NewScanService 创建扫描引擎
func NewScanService(db *gorm.DB, cfg *config.Config, log *logger.Logger,
	lock *HeavyWriteLock, prober MediaProber, thumbs Thumbnailer) *ScanService {

	s := &ScanService{
		db:        db,
		cfg:       cfg,
		log:       log,
		lock:      lock,
		prober:    prober,
		thumbs:    thumbs,
		imageExts: make(map[string]bool),
		videoExts: make(map[string]bool),
	}
	for _, ext := range cfg.Library.ImageExtensions {
		s.imageExts[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.Library.VideoExtensions {
		s.videoExts[strings.ToLower(ext)] = true
	}
	return s
}

// 程序自己的控制目录，走查时必须跳过
const controlDirName = "data"

// Run 执行一次全量扫描
func (s *ScanService) Run(tc *TaskContext) error {
	var (
		newPaths   []string
		reappeared []uint
	)

	// 第一阶段：单趟走查文件系统，不持锁。
	// 新文件先攒在内存里，总量边走边更新，保证进度展示及时
	tc.SetStep("走查媒体库")
	for _, root := range s.cfg.Library.Roots {
		known, missing, err := s.loadKnownPaths(root)
		if err != nil {
			return fmt.Errorf("读取已知路径失败: %w", err)
		}

		err = s.walk(root, func(path string) error {
			if tc.Cancelled() {
				return errCancelled
			}
			if !s.isAllowed(path) {
				return nil
			}
			if id, ok := missing[path]; ok {
				reappeared = append(reappeared, id)
				return nil
			}
			if !known[path] {
				newPaths = append(newPaths, path)
				tc.SetTotal(int64(len(newPaths)))
				tc.SetItem(path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	tc.SetTotal(int64(len(newPaths)))
	s.log.Infof("扫描发现 %d 个新文件，%d 个丢失文件重新出现", len(newPaths), len(reappeared))

	// 第二阶段：持重写锁做批量写入
	release, ok := s.lock.Acquire(tc.Context(), "scan", tc.Cancelled)
	if !ok {
		return errCancelled
	}
	defer release()

	if len(reappeared) > 0 {
		tc.SetStep("恢复重新出现的文件")
		err := database.WithRetry(s.db, func(tx *gorm.DB) error {
			return tx.Model(&model.Media{}).
				Where("id IN ?", reappeared).
				Updates(map[string]interface{}{
					"missing_since":     nil,
					"missing_confirmed": false,
				}).Error
		})
		if err != nil {
			return fmt.Errorf("恢复丢失标记失败: %w", err)
		}
	}

	tc.SetStep("写入新文件")
	batchSize := s.cfg.Library.ScanBatchSize
	for start := 0; start < len(newPaths); start += batchSize {
		if tc.Cancelled() {
			return errCancelled
		}

		end := start + batchSize
		if end > len(newPaths) {
			end = len(newPaths)
		}

		if err := s.insertBatch(tc, newPaths[start:end]); err != nil {
			return err
		}
	}

	return nil
}

// insertBatch 在一个事务里插入一批新文件。
// 单个文件用保存点隔离：记录和缩略图必须同生共死，
// 缩略图失败就回滚该条记录，失败原因落入失败日志，不拖垮整批。
// 计数和失败日志在整批提交之后才落账，批量回滚不会留下多余计数。
func (s *ScanService) insertBatch(tc *TaskContext, paths []string) error {
	type failure struct {
		path   string
		reason string
	}

	var (
		succeeded int64
		failures  []failure
	)

	err := database.WithRetry(s.db, func(tx *gorm.DB) error {
		succeeded = 0
		failures = failures[:0]

		for _, path := range paths {
			if tc.Cancelled() {
				return errCancelled
			}
			tc.SetItem(path)

			err := tx.Transaction(func(itx *gorm.DB) error {
				return s.insertOne(itx, path)
			})
			switch {
			case err == nil:
				succeeded++
			case database.IsUniqueViolation(err):
				// 并发写入者抢先插入了同一路径，跳过即可
				s.log.Debugf("路径已存在，跳过: %s", path)
			default:
				failures = append(failures, failure{path: path, reason: err.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	tc.AddProcessed(succeeded)
	for _, f := range failures {
		tc.Fail(f.path, "insert", f.reason)
	}
	return nil
}

// insertOne 插入单个媒体：探测元信息、入库拿到ID、生成缩略图、算感知哈希
func (s *ScanService) insertOne(tx *gorm.DB, path string) error {
	info, err := s.prober.Probe(path)
	if err != nil {
		return err
	}

	media := model.Media{
		Path:      path,
		MediaType: info.MediaType,
		SizeBytes: info.SizeBytes,
		Width:     info.Width,
		Height:    info.Height,
		Duration:  info.Duration,
	}
	if err := tx.Create(&media).Error; err != nil {
		return err
	}

	thumbPath, err := s.thumbs.Generate(media.ID, path, info.MediaType == model.MediaTypeImage)
	if err != nil {
		// 没有缩略图的记录是无效的，靠保存点回滚丢弃
		return fmt.Errorf("生成缩略图失败: %w", err)
	}

	updates := map[string]interface{}{"thumbnail_path": thumbPath}
	if info.MediaType == model.MediaTypeImage {
		// 直接用已缩放的缩略图算哈希，省一次全尺寸解码
		if thumb, err := imaging.Open(thumbPath); err == nil {
			updates["perceptual_hash"] = phash.DHash(thumb)
		}
	}

	if err := tx.Model(&media).Updates(updates).Error; err != nil {
		s.thumbs.Remove(thumbPath)
		return err
	}
	return nil
}

// loadKnownPaths 用前缀范围查询加载某根目录下的已知路径，
// 返回全部已知路径集合和被标记丢失的 路径->ID 子集
func (s *ScanService) loadKnownPaths(root string) (map[string]bool, map[string]uint, error) {
	type row struct {
		ID           uint
		Path         string
		MissingSince *time.Time
	}

	var rows []row
	err := s.db.Model(&model.Media{}).
		Select("id", "path", "missing_since").
		Where("path LIKE ?", root+"%").
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	known := make(map[string]bool, len(rows))
	missing := make(map[string]uint)
	for _, r := range rows {
		known[r.Path] = true
		if r.MissingSince != nil {
			missing[r.Path] = r.ID
		}
	}
	return known, missing, nil
}

// isAllowed 后缀是否在白名单中
func (s *ScanService) isAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.imageExts[ext] || s.videoExts[ext]
}

// walk 跟随符号链接的目录走查，跳过控制目录和隐藏目录，
// 用已解析路径集合防止链接成环
func (s *ScanService) walk(root string, fn func(path string) error) error {
	visited := make(map[string]bool)
	return s.walkDir(root, visited, fn)
}

func (s *ScanService) walkDir(dir string, visited map[string]bool, fn func(path string) error) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		s.log.Warnf("解析目录失败，跳过: %s (%v)", dir, err)
		return nil
	}
	if visited[resolved] {
		return nil
	}
	visited[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warnf("读取目录失败，跳过: %s (%v)", dir, err)
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == controlDirName {
			continue
		}

		full := filepath.Join(dir, name)
		stat, err := os.Stat(full) // Stat 跟随符号链接
		if err != nil {
			continue
		}

		if stat.IsDir() {
			if err := s.walkDir(full, visited, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(full); err != nil {
			return err
		}
	}
	return nil
}
