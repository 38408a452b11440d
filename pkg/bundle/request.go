package bundle

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SearchType classifies where a media request came from and whether it
// still needs a search stage to resolve a canonical URL
type SearchType string

const (
	SearchTypeStreamingTrack SearchType = "streaming_track"
	SearchTypeVideoURL       SearchType = "video_url"
	SearchTypePlaylistMember SearchType = "video_playlist_member"
	SearchTypeDirectURL      SearchType = "direct_url"
	SearchTypeFreeText       SearchType = "free_text"
	SearchTypeOther          SearchType = "other"
)

// NeedsSearch reports whether requests of this type go through the search
// queue before download
func (s SearchType) NeedsSearch() bool {
	return s == SearchTypeStreamingTrack || s == SearchTypeFreeText
}

// LifecycleStage is the bundle-visible state of one media request
type LifecycleStage string

const (
	StageSearching  LifecycleStage = "searching"
	StageQueued     LifecycleStage = "queued"
	StageBackoff    LifecycleStage = "backoff"
	StageInProgress LifecycleStage = "in_progress"
	StageCompleted  LifecycleStage = "completed"
	StageFailed     LifecycleStage = "failed"
	StageDiscarded  LifecycleStage = "discarded"
)

// Terminal reports whether the stage is one of the three counted end states
func (l LifecycleStage) Terminal() bool {
	return l == StageCompleted || l == StageFailed || l == StageDiscarded
}

// MediaRequest is one user-intended track flowing through the pipeline.
// RawSearch keeps the original user input; ResolvedSearch starts equal and
// is rewritten to a canonical URL by the search stage.
type MediaRequest struct {
	ID             string
	GuildID        string
	ChannelID      string
	RequesterName  string
	RequesterID    string
	RawSearch      string
	ResolvedSearch string
	SearchType     SearchType
	BundleID       string
	RetryCount     int

	// FromHistory requests are not written back to the history playlist
	FromHistory   bool
	HistoryItemID string

	// AddToPlaylist routes the finished download to a saved playlist
	// instead of the play queue
	AddToPlaylist *uuid.UUID

	// DisplayNameOverride replaces RawSearch in bundle rows, used for
	// playlist entries with a known title
	DisplayNameOverride string
}

// NewMediaRequest creates a request with ResolvedSearch initialized to the
// raw input
func NewMediaRequest(guildID, channelID, requesterName, requesterID, rawSearch string, searchType SearchType) *MediaRequest {
	return &MediaRequest{
		ID:             fmt.Sprintf("request.%s", uuid.New()),
		GuildID:        guildID,
		ChannelID:      channelID,
		RequesterName:  requesterName,
		RequesterID:    requesterID,
		RawSearch:      rawSearch,
		ResolvedSearch: rawSearch,
		SearchType:     searchType,
	}
}

// DisplayName returns the string shown in bundle rows
func (m *MediaRequest) DisplayName() string {
	if m.DisplayNameOverride != "" {
		return m.DisplayNameOverride
	}
	return m.RawSearch
}

// FormatNoEmbed wraps URLs in angle brackets so the chat client does not
// render a preview embed for them
func FormatNoEmbed(s string) string {
	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return fmt.Sprintf("<%s>", s)
	}
	return s
}

// ShortenString truncates a string to at most max characters, appending
// "..." when truncation happened
func ShortenString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
