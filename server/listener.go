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

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corvidfed/fedcore/inbox"
)

// certReloadDelay debounces a burst of filesystem events (most certificate
// renewal tools write the key and the certificate as separate writes) into
// one reload, matching the teacher's Listener.
const certReloadDelay = time.Second * 5

// Listener wires the HTTP surface (actor documents, outbox, followers,
// WebFinger, NodeInfo, host-meta) and the inbox processor's two endpoints
// into one http.Handler, and serves it with the same fsnotify-watched
// TLS-hot-reload loop as the teacher's fed.Listener.
type Listener struct {
	Server *Server
	Inbox  *inbox.Processor

	Addr  string
	Cert  string
	Key   string
	Plain bool
}

// NewHandler builds the ServeMux every inbound request is routed through.
func (l *Listener) NewHandler() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/webfinger", l.Server.ServeWebFinger)
	mux.HandleFunc("GET /.well-known/host-meta", l.Server.ServeHostMeta)
	mux.HandleFunc("GET /.well-known/nodeinfo", l.Server.ServeNodeInfoDiscovery)
	mux.HandleFunc("GET /nodeinfo/2.1", l.Server.ServeNodeInfo)

	mux.HandleFunc("GET /users/{id}", l.Server.ServeActor)
	mux.HandleFunc("GET /users/{id}/outbox", l.Server.ServeOutbox)
	mux.HandleFunc("GET /users/{id}/followers", l.Server.ServeFollowers)

	mux.HandleFunc("POST /inbox", l.Inbox.ServeSharedInbox)
	mux.HandleFunc("POST /users/{id}/inbox", l.Inbox.ServeActorInbox)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "Received request to non-existing path", "path", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	return mux, nil
}

// ListenAndServe serves the handler NewHandler builds, restarting the
// server whenever the certificate or key file changes so a renewed
// certificate is picked up without downtime, exactly as the teacher's
// Listener.ListenAndServe does.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	mux, err := l.NewHandler()
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	certDir := filepath.Dir(l.Cert)
	certAbsPath := filepath.Join(certDir, filepath.Base(l.Cert))

	keyDir := filepath.Dir(l.Key)
	keyAbsPath := filepath.Join(keyDir, filepath.Base(l.Key))

	if !l.Plain {
		if err := w.Add(certDir); err != nil {
			return err
		}
		if keyDir != certDir {
			if err := w.Add(keyDir); err != nil {
				return err
			}
		}
	}

	for ctx.Err() == nil {
		var wg sync.WaitGroup
		serverCtx, stopServer := context.WithCancel(ctx)

		httpServer := http.Server{
			Addr:    l.Addr,
			Handler: http.TimeoutHandler(mux, time.Second*30, ""),
			BaseContext: func(net.Listener) context.Context {
				return serverCtx
			},
			ReadTimeout: time.Second * 30,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}

		wg.Add(1)
		go func() {
			<-serverCtx.Done()

			if ctx.Err() == nil {
				slog.Info("Shutting down server")
				httpServer.Shutdown(ctx)
			}

			httpServer.Close()
			wg.Done()
		}()

		timer := time.NewTimer(math.MaxInt64)
		timer.Stop()

		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-serverCtx.Done():
					return

				case event, ok := <-w.Events:
					if !ok {
						continue
					}
					if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && (event.Name == certAbsPath || event.Name == keyAbsPath) {
						slog.Info("Stopping server: file has changed", "name", event.Name)
						timer.Reset(certReloadDelay)
					}

				case <-timer.C:
					httpServer.Shutdown(context.Background())
					return

				case <-w.Errors:
				}
			}
		}()

		slog.Info("Starting server", "addr", l.Addr)
		var serveErr error
		if l.Plain {
			serveErr = httpServer.ListenAndServe()
		} else {
			serveErr = httpServer.ListenAndServeTLS(l.Cert, l.Key)
		}

		stopServer()
		wg.Wait()

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
	}

	return nil
}
