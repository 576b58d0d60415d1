package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RunOptions configures the long-running server.
type RunOptions struct {
	Addr     string
	Paths    []string
	Watch    bool
	Debounce time.Duration
}

// Run loads the initial files, serves the API and, when asked, reloads files as they
// change. It blocks until ctx is cancelled or the listener fails.
func Run(ctx context.Context, svc *Service, opts RunOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}
	if len(opts.Paths) > 0 {
		if _, err := svc.LoadPaths(ctx, opts.Paths); err != nil {
			return err
		}
	}

	if opts.Watch && len(opts.Paths) > 0 {
		w, err := NewWatcher(opts.Paths, svc, opts.Debounce, logger.Named("watcher"))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewServer(svc, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// WatchOnly reloads files into svc until ctx is cancelled, without serving HTTP.
func WatchOnly(ctx context.Context, svc *Service, paths []string, debounce time.Duration, onChange func(), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	notify := &notifyingReloader{Reloader: svc, onChange: onChange}
	w, err := NewWatcher(paths, notify, debounce, logger.Named("watcher"))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

type notifyingReloader struct {
	Reloader
	onChange func()
}

func (n *notifyingReloader) Reload(ctx context.Context, path string) error {
	if err := n.Reloader.Reload(ctx, path); err != nil {
		return err
	}
	if n.onChange != nil {
		n.onChange()
	}
	return nil
}

func (n *notifyingReloader) Forget(path string) error {
	if err := n.Reloader.Forget(path); err != nil {
		return err
	}
	if n.onChange != nil {
		n.onChange()
	}
	return nil
}
