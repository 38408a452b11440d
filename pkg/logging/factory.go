package logging

import "sync"

// DefaultLoggerFactory implements LoggerFactory using zap loggers
type DefaultLoggerFactory struct {
	loggers map[string]Logger
	mu      sync.RWMutex
}

// NewLoggerFactory creates a new logger factory
func NewLoggerFactory() LoggerFactory {
	return &DefaultLoggerFactory{
		loggers: make(map[string]Logger),
	}
}

// CreateLogger creates a basic logger for the specified component
func (f *DefaultLoggerFactory) CreateLogger(component string) Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if logger, exists := f.loggers[component]; exists {
		return logger
	}

	logger := NewZapLogger(component)
	f.loggers[component] = logger
	return logger
}

// CreateCommandLogger creates a logger for Discord command operations
func (f *DefaultLoggerFactory) CreateCommandLogger(commandName string) Logger {
	return f.CreateLogger("commands").WithContext(map[string]interface{}{
		"command": commandName,
	})
}

// CreatePlayerLogger creates a logger scoped to one guild player
func (f *DefaultLoggerFactory) CreatePlayerLogger(guildID string) Logger {
	return f.CreateLogger("player").WithContext(map[string]interface{}{
		"guild_id": guildID,
	})
}

// CreateLoopLogger creates a logger scoped to one background loop
func (f *DefaultLoggerFactory) CreateLoopLogger(loopName string) Logger {
	return f.CreateLogger("loops").WithContext(map[string]interface{}{
		"loop": loopName,
	})
}

// GlobalLoggerFactory provides a singleton logger factory instance
var (
	globalFactory LoggerFactory
	factoryOnce   sync.Once
)

// GetGlobalLoggerFactory returns the global logger factory instance
func GetGlobalLoggerFactory() LoggerFactory {
	factoryOnce.Do(func() {
		globalFactory = NewLoggerFactory()
	})
	return globalFactory
}

// SetGlobalLoggerFactory sets the global logger factory (useful for dependency injection)
func SetGlobalLoggerFactory(factory LoggerFactory) {
	globalFactory = factory
}
