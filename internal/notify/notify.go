// Package notify delivers best-effort "this path changed" notifications.
//
// Two backends are provided: FSNotifier, backed by fsnotify watches on the
// parent directory, and Poller, which diffs mtime and size on a ticker.
// Consumers must tolerate both missed and duplicate notifications.
package notify

// Notifier subscribes to change notifications for a single file path.
// The path need not exist yet. Callbacks run on a notifier goroutine and
// are never invoked from inside Watch.
type Notifier interface {
	Watch(path string, onChange func(path string)) (Subscription, error)
}

// Subscription is an active watch. Close is idempotent.
type Subscription interface {
	Close() error
}
