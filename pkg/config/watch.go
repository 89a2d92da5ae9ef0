package config

import (
	"log"

	"github.com/fsnotify/fsnotify"

	"github.com/loopwire/uhttp/pkg/httpserver"
)

// WatchTLSFiles watches cfg.TLS.CertFile/KeyFile for changes and swaps
// srv's TLS wrapper on every write, so a cert renewal takes effect without
// a restart. It returns the fsnotify.Watcher so callers can Close it on
// shutdown; the watch goroutine exits when the watcher is closed.
//
// No-op (returns nil, nil) when cfg.WatchTLSFiles is false or TLS is unset.
func WatchTLSFiles(srv *httpserver.Server, cfg ServerConfig) (*fsnotify.Watcher, error) {
	if !cfg.WatchTLSFiles || cfg.TLS.empty() {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(cfg.TLS.CertFile); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(cfg.TLS.KeyFile); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				wrapper, rerr := cfg.TLSWrapper()
				if rerr != nil {
					log.Printf("config: tls reload failed, keeping previous cert: %v", rerr)
					continue
				}
				srv.SetTLSWrapper(wrapper)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: tls watch error: %v", werr)
			}
		}
	}()

	return watcher, nil
}
