package session

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch reports the current session id whenever the current-session
// pointer file changes, until ctx is cancelled. It sends the freshly read
// id (or a GetCurrent error via errs) and closes both ids and errs once ctx
// is done and the watcher goroutine exits; if the watch cannot be set up,
// the setup error is sent on errs and both channels are closed before
// Watch returns. Used by `status --watch` so a long-lived caller notices another
// process switching sessions without polling.
func (m *Manager) Watch(ctx context.Context) (ids <-chan string, errs <-chan error) {
	idCh := make(chan string)
	errCh := make(chan error, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errCh <- err
		close(idCh)
		close(errCh)
		return idCh, errCh
	}

	pointerDir := m.Paths.ContainmentRoot()
	if err := watcher.Add(pointerDir); err != nil {
		errCh <- err
		watcher.Close()
		close(idCh)
		close(errCh)
		return idCh, errCh
	}

	go func() {
		defer watcher.Close()
		defer close(idCh)
		defer close(errCh)

		pointerFile := m.Paths.CurrentPointerFile()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != pointerFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				id, err := m.GetCurrent()
				if err != nil {
					select {
					case errCh <- err:
					case <-ctx.Done():
						return
					}
					continue
				}
				select {
				case idCh <- id:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return idCh, errCh
}
