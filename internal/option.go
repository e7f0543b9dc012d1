package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config      *Config
	initialFile string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithInitialFile opens path once the session is running. Paths that do not
// exist or are not Markdown are skipped with a warning.
func WithInitialFile(path string) Option {
	return func(a *application) {
		a.initialFile = path
	}
}
