package filewatcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"photo-fusion/app/config"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"
	"photo-fusion/app/service"

	"github.com/fsnotify/fsnotify"
)

// LibraryWatcher 媒体库目录监控器。递归监控所有库根目录，
// 文件系统事件经过去抖窗口合并后触发一次扫描任务，
// 而不是逐文件处理——拷贝进一批照片只应引起一轮扫描。
type LibraryWatcher struct {
	cfg      *config.Config
	orch     *service.Orchestrator
	watcher  *fsnotify.Watcher
	log      *logger.Logger
	events   chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
}

// New 创建媒体库监控器，配置禁用时返回 nil
func New(cfg *config.Config, orch *service.Orchestrator, log *logger.Logger) (*LibraryWatcher, error) {
	if !cfg.Watcher.Enabled {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &LibraryWatcher{
		cfg:     cfg,
		orch:    orch,
		watcher: watcher,
		log:     log,
		events:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动监控
func (w *LibraryWatcher) Start() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("媒体库监控器已经在运行")
	}

	for _, root := range w.cfg.Library.Roots {
		if _, err := os.Stat(root); err != nil {
			return fmt.Errorf("媒体库根目录不可用: %s: %w", root, err)
		}
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("添加监控目录失败: %w", err)
		}
	}

	w.watching = true
	w.wg.Add(2)
	go w.watchLoop()
	go w.debounceLoop()

	w.log.Infof("媒体库监控器已启动，监控 %d 个根目录，去抖窗口 %d 秒",
		len(w.cfg.Library.Roots), w.cfg.Watcher.DebounceSecs)
	return nil
}

// Stop 停止监控
func (w *LibraryWatcher) Stop() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.log.Info("媒体库监控器已停止")
	return nil
}

// addRecursive 递归添加监控目录，跳过隐藏目录
func (w *LibraryWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.log.Warnf("遍历目录失败: %s, 错误: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warnf("添加目录监控失败: %s, 错误: %v", path, err)
		}
		return nil
	})
}

// watchLoop 监控事件循环
func (w *LibraryWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("文件监控错误: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// handleEvent 判断事件是否值得触发扫描。
// 新目录顺带加入监控；删除和改名也算——扫描会据此标记丢失文件。
func (w *LibraryWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warnf("添加新目录监控失败: %s, 错误: %v", event.Name, err)
			}
			w.markDirty()
			return
		}
	}

	if !w.isMediaFile(event.Name) {
		return
	}
	w.log.Debugf("媒体文件变动: %s (%s)", event.Name, event.Op)
	w.markDirty()
}

func (w *LibraryWatcher) markDirty() {
	select {
	case w.events <- struct{}{}:
	default: // 窗口内已有待处理事件
	}
}

// debounceLoop 去抖循环：收到首个事件后等足一个窗口再触发扫描，
// 窗口内的后续事件全部合并进同一轮
func (w *LibraryWatcher) debounceLoop() {
	defer w.wg.Done()

	window := time.Duration(w.cfg.Watcher.DebounceSecs) * time.Second
	for {
		select {
		case <-w.events:
		case <-w.stopCh:
			return
		}

		select {
		case <-time.After(window):
		case <-w.stopCh:
			return
		}
		// 清掉窗口期间积累的信号
		select {
		case <-w.events:
		default:
		}

		w.triggerScan()
	}
}

func (w *LibraryWatcher) triggerScan() {
	task, err := w.orch.Start(model.TaskTypeScan)
	if err != nil {
		if errors.Is(err, service.ErrBusy) {
			w.log.Info("文件变动触发扫描被跳过：系统繁忙")
			return
		}
		w.log.Errorf("文件变动触发扫描失败: %v", err)
		return
	}
	w.log.Infof("🔄 文件变动触发扫描任务: %s", task.ID)
}

func (w *LibraryWatcher) isMediaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.cfg.Library.ImageExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	for _, e := range w.cfg.Library.VideoExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
