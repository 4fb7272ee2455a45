package app

import "sync"

// Options configures the top-level controller.
type Options struct {
	// ConfigPath points to the optional daemon config file.
	ConfigPath string
	// Session resumes an existing caller session.
	Session string
}

// App exposes high-level operations that the CLI/TUI can reuse.
type App struct {
	cfgPath string

	mu      sync.Mutex
	session string
}

// New constructs the shared controller facade.
func New(opts Options) *App {
	return &App{
		cfgPath: opts.ConfigPath,
		session: opts.Session,
	}
}

// ConfigPath returns the configured config file path (if any).
func (a *App) ConfigPath() string {
	return a.cfgPath
}

// Session returns the caller session id assigned by the daemon, if any.
func (a *App) Session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) setSession(id string) {
	if id == "" {
		return
	}
	a.mu.Lock()
	a.session = id
	a.mu.Unlock()
}
