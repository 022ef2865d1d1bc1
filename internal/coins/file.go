package coins

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aquant/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// FileProvider 从文本文件读取候选列表（每行一个合约，# 开头为注释），
// 并通过 fsnotify 监听变更热加载，无需重启进程。
type FileProvider struct {
	path string

	mu      sync.RWMutex
	symbols []string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path, done: make(chan struct{})}
	if err := p.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// 监听目录而不是文件本身：编辑器原子保存会替换 inode
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	p.watcher = watcher
	go p.watch()
	return p, nil
}

func (p *FileProvider) List(context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.symbols))
	copy(out, p.symbols)
	return out, nil
}

func (p *FileProvider) Close() error {
	close(p.done)
	return p.watcher.Close()
}

func (p *FileProvider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := p.reload(); err != nil {
				logger.Warnf("候选列表热加载失败 path=%s err=%v", p.path, err)
				continue
			}
			logger.Infof("候选列表已热加载 path=%s count=%d", p.path, p.count())
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("候选列表监听错误: %v", err)
		}
	}
}

func (p *FileProvider) reload() error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.symbols = normalize(lines)
	p.mu.Unlock()
	return nil
}

func (p *FileProvider) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.symbols)
}
