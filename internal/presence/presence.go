package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jukeboxd/jukebox/pkg/logging"
)

const updateInterval = time.Minute

// Manager keeps the bot's presence line in sync with playback activity
type Manager struct {
	session *discordgo.Session
	logger  logging.Logger

	mu   sync.Mutex
	stop chan struct{}
	last string
}

// NewManager creates a presence manager
func NewManager(session *discordgo.Session, logger logging.Logger) *Manager {
	return &Manager{session: session, logger: logger}
}

// UpdateDefault shows the idle presence
func (p *Manager) UpdateDefault() {
	p.set("music requests")
}

// UpdateActiveGuilds shows how many servers are currently playing
func (p *Manager) UpdateActiveGuilds(n int) {
	if n == 0 {
		p.UpdateDefault()
		return
	}
	if n == 1 {
		p.set("music in 1 server")
		return
	}
	p.set(fmt.Sprintf("music in %d servers", n))
}

func (p *Manager) set(status string) {
	p.mu.Lock()
	if status == p.last {
		p.mu.Unlock()
		return
	}
	p.last = status
	p.mu.Unlock()

	if err := p.session.UpdateListeningStatus(status); err != nil {
		p.logger.Warn("failed to update presence", map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
	}
}

// StartPeriodicUpdates refreshes the presence from activeGuilds until Stop
func (p *Manager) StartPeriodicUpdates(activeGuilds func() int) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.UpdateActiveGuilds(activeGuilds())
			}
		}
	}()
}

// Stop ends the periodic updates
func (p *Manager) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}
