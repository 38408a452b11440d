package bundle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// bundleRow is one media request's display slot. Page and RowInPage are
// assigned at freeze time and never change afterwards.
type bundleRow struct {
	requestID string
	display   string
	stage     LifecycleStage
	text      string
	visible   bool
	page      int
	rowInPage int
}

// RequestBundle groups the media requests produced by one user command and
// renders their progress as paginated text. Until Freeze is called rows may
// still be appended; after Freeze the row-to-page mapping is permanent so
// the dispatcher can edit pages in place.
type RequestBundle struct {
	mu sync.Mutex

	ID        string
	GuildID   string
	ChannelID string

	pageCharLimit int
	inputString   string

	searchFinished bool
	searchError    string
	hasBanner      bool
	bannerText     string

	rows   []*bundleRow
	frozen bool
	pages  [][]*bundleRow

	total     int
	completed int
	failed    int
	discarded int

	shutdown   bool
	createdAt  time.Time
	finishedAt *time.Time
}

// NewRequestBundle creates an empty bundle for one user command
func NewRequestBundle(guildID, channelID string, pageCharLimit int) *RequestBundle {
	return &RequestBundle{
		ID:            fmt.Sprintf("request.bundle.%s", uuid.New()),
		GuildID:       guildID,
		ChannelID:     channelID,
		pageCharLimit: pageCharLimit,
		createdAt:     time.Now(),
	}
}

// SetInitialSearch shows the "Processing search" banner while catalog
// lookups run. The shuffle token is stripped from the display string.
func (b *RequestBundle) SetInitialSearch(input string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inputString = ShortenString(strings.ReplaceAll(input, " shuffle", ""), 256)
	b.hasBanner = true
	b.bannerText = fmt.Sprintf("Processing search %q", FormatNoEmbed(b.inputString))
}

// SetSearchResult marks the search stage done. A non-empty errorMessage
// records a catalog failure on the banner; properName replaces the display
// string when the catalog returned a better title (album or playlist name).
func (b *RequestBundle) SetSearchResult(errorMessage, properName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.searchFinished = true
	if errorMessage != "" {
		b.searchError = errorMessage
		if b.inputString != "" {
			b.bannerText = fmt.Sprintf("Error processing search %q, %s", FormatNoEmbed(b.inputString), errorMessage)
		}
		b.setFinishedLocked()
		return
	}
	if properName != "" {
		b.inputString = ShortenString(properName, 256)
	}
	b.bannerText = fmt.Sprintf("Processing %q", FormatNoEmbed(b.inputString))
}

// AddRequest appends a row for the request. Discarded requests are counted
// but never shown; completed requests (cache hits resolved before display)
// are counted without a row.
func (b *RequestBundle) AddRequest(req *MediaRequest, stage LifecycleStage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	display := FormatNoEmbed(req.DisplayName())
	row := &bundleRow{
		requestID: req.ID,
		display:   display,
		stage:     stage,
		page:      -1,
		rowInPage: -1,
	}
	switch stage {
	case StageDiscarded, StageCompleted:
		// no visible row
	default:
		row.visible = true
		row.text = fmt.Sprintf("Media request queued for download: %q", display)
	}
	b.rows = append(b.rows, row)
	b.total++
	req.BundleID = b.ID
	b.recountLocked()
}

// Freeze locks the bundle's pagination. Single-request bundles drop the
// search banner since the one row says everything. Each visible row gets a
// permanent (page, row) slot.
func (b *RequestBundle) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return
	}
	b.frozen = true

	if b.total == 1 {
		b.hasBanner = false
	}

	b.pages = nil
	pageIdx := 0
	rowIdx := 0
	pageChars := 0
	var current []*bundleRow

	appendLine := func(row *bundleRow, lineLen int) {
		if pageChars+lineLen+1 > b.pageCharLimit && len(current) > 0 {
			b.pages = append(b.pages, current)
			current = nil
			pageIdx++
			rowIdx = 0
			pageChars = 0
		}
		row.page = pageIdx
		row.rowInPage = rowIdx
		current = append(current, row)
		rowIdx++
		pageChars += lineLen + 1
	}

	if b.hasBanner {
		banner := &bundleRow{requestID: "", visible: true, text: b.bannerText, page: 0, rowInPage: 0}
		appendLine(banner, len(b.bannerText))
	}
	for _, row := range b.rows {
		if !row.visible {
			continue
		}
		appendLine(row, len(row.text))
	}
	if len(current) > 0 {
		b.pages = append(b.pages, current)
	}

	b.recountLocked()
	b.updateBannerLocked()
	b.checkFinishedLocked()
}

// UpdateRequest advances the row for the request to a new stage and
// recomputes the counters. Returns false when the request is not part of
// this bundle.
func (b *RequestBundle) UpdateRequest(requestID string, stage LifecycleStage, failureReason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var row *bundleRow
	for _, r := range b.rows {
		if r.requestID == requestID {
			row = r
			break
		}
	}
	if row == nil {
		return false
	}
	if row.stage == stage {
		return true
	}
	row.stage = stage

	switch stage {
	case StageQueued:
		// keep the existing queued-for-download text
	case StageInProgress:
		row.text = fmt.Sprintf("Downloading and processing media request: %q", row.display)
	case StageBackoff:
		if failureReason != "" {
			row.text = fmt.Sprintf("Issue downloading media request: %q, will retry", row.display)
		} else {
			row.text = fmt.Sprintf("Waiting for backoff time before processing media request: %q", row.display)
		}
	case StageCompleted, StageDiscarded:
		// cleared rows render blank so other rows keep their slots
		row.text = ""
	case StageFailed:
		msg := fmt.Sprintf("Media request failed download: %q", row.display)
		if failureReason != "" {
			msg = fmt.Sprintf("%s, %s", msg, failureReason)
		}
		row.text = msg
	}

	b.recountLocked()
	b.updateBannerLocked()
	b.checkFinishedLocked()
	return true
}

// Shutdown makes Render return nothing so the dispatcher clears the
// bundle's messages
func (b *RequestBundle) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
}

// Finished reports whether every counted request has reached a terminal
// stage (or the search itself failed)
func (b *RequestBundle) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedLocked()
}

// FinishedSuccessfully reports whether processing ended with zero failures
func (b *RequestBundle) FinishedSuccessfully() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedLocked() && b.completed+b.discarded == b.total
}

// FinishedAt returns when the bundle finished, or nil while in flight
func (b *RequestBundle) FinishedAt() *time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedAt
}

// Counters returns (total, completed, failed, discarded)
func (b *RequestBundle) Counters() (int, int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.completed, b.failed, b.discarded
}

// Frozen reports whether pagination has been locked
func (b *RequestBundle) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// RowSlot returns the frozen (page, rowInPage) assignment for a request.
// Both are -1 before freeze or for invisible rows.
func (b *RequestBundle) RowSlot(requestID string) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.rows {
		if r.requestID == requestID {
			return r.page, r.rowInPage
		}
	}
	return -1, -1
}

// Render returns one string per page. Pages whose rows are all blank are
// dropped so the dispatcher deletes their messages. A shut-down bundle
// renders nothing.
func (b *RequestBundle) Render() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdown {
		return nil
	}

	if !b.frozen {
		var lines []string
		if b.hasBanner {
			lines = append(lines, b.bannerText)
		}
		for _, row := range b.rows {
			if row.visible {
				lines = append(lines, row.text)
			}
		}
		if len(lines) == 0 {
			return nil
		}
		return []string{strings.Join(lines, "\n")}
	}

	var out []string
	for _, page := range b.pages {
		lines := make([]string, 0, len(page))
		blank := true
		for _, row := range page {
			lines = append(lines, row.text)
			if row.text != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		out = append(out, strings.Join(lines, "\n"))
	}
	return out
}

// recountLocked recomputes the counters from row stages. Caller must hold
// the lock.
func (b *RequestBundle) recountLocked() {
	b.completed = 0
	b.failed = 0
	b.discarded = 0
	for _, row := range b.rows {
		switch row.stage {
		case StageCompleted:
			b.completed++
		case StageFailed:
			b.failed++
		case StageDiscarded:
			b.discarded++
		}
	}
}

// updateBannerLocked rewrites the banner's progress line. Caller must hold
// the lock.
func (b *RequestBundle) updateBannerLocked() {
	if !b.hasBanner || b.total <= 1 || b.inputString == "" {
		return
	}
	topLine := fmt.Sprintf("Processing %q", FormatNoEmbed(b.inputString))
	if b.finishedLocked() {
		topLine = fmt.Sprintf("Completed processing of %q", FormatNoEmbed(b.inputString))
	}
	b.bannerText = fmt.Sprintf("%s\n%d/%d media requests processed successfully, %d failed",
		topLine, b.completed, b.total-b.discarded, b.failed)
	if b.frozen && len(b.pages) > 0 && len(b.pages[0]) > 0 && b.pages[0][0].requestID == "" {
		b.pages[0][0].text = b.bannerText
	}
}

func (b *RequestBundle) finishedLocked() bool {
	if b.searchFinished && b.searchError != "" {
		return true
	}
	if !b.searchFinished && !b.frozen {
		return false
	}
	return b.total > 0 && b.completed+b.failed+b.discarded == b.total
}

// checkFinishedLocked stamps finishedAt exactly once. Caller must hold the
// lock.
func (b *RequestBundle) checkFinishedLocked() {
	if b.finishedAt == nil && b.finishedLocked() {
		b.setFinishedLocked()
	}
}

func (b *RequestBundle) setFinishedLocked() {
	if b.finishedAt == nil {
		now := time.Now()
		b.finishedAt = &now
	}
}
