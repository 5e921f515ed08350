/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package filter

import (
	"bufio"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = time.Second * 5

func loadPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.ToLower(line))
	}

	return patterns, s.Err()
}

// WatchedFilter is a Filter whose pattern list is reloaded from a file
// whenever it changes on disk, mirroring the operational need for a shared
// deny-list a host's operators can edit without restarting the process.
type WatchedFilter struct {
	mode Mode
	cur  atomic.Pointer[Filter]

	lock sync.Mutex
	wg   sync.WaitGroup
	w    *fsnotify.Watcher
}

// NewWatched creates a WatchedFilter in the given mode, loading its initial
// pattern list from path and reloading it on every subsequent write.
func NewWatched(log *slog.Logger, mode Mode, path string) (*WatchedFilter, error) {
	patterns, err := loadPatterns(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	absPath := filepath.Join(dir, filepath.Base(path))

	wf := &WatchedFilter{mode: mode, w: w}
	wf.cur.Store(New(mode, patterns))

	timer := time.NewTimer(math.MaxInt64)
	timer.Stop()

	wf.wg.Add(1)
	go func() {
		defer wf.wg.Done()

		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					timer.Stop()
					return
				}

				if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && event.Name == absPath {
					timer.Reset(reloadDelay)
				}

			case <-timer.C:
				newPatterns, err := loadPatterns(path)
				if err != nil {
					log.Warn("Failed to reload federation filter", "path", path, "error", err)
					continue
				}

				wf.cur.Store(New(wf.mode, newPatterns))
				log.Info("Reloaded federation filter", "path", path, "length", len(newPatterns))
			}
		}
	}()

	return wf, nil
}

// AllowsHost delegates to the current Filter snapshot.
func (wf *WatchedFilter) AllowsHost(host string) bool {
	return wf.cur.Load().AllowsHost(host)
}

// AllowsURL delegates to the current Filter snapshot.
func (wf *WatchedFilter) AllowsURL(rawURL string) (bool, error) {
	return wf.cur.Load().AllowsURL(rawURL)
}

// Close stops watching the underlying file.
func (wf *WatchedFilter) Close() {
	wf.w.Close()
	wf.wg.Wait()
}
