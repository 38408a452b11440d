package dispatch

import (
	"time"
)

// Renderer produces the current page strings for a mutable bundle
type Renderer interface {
	Render() []string
}

// RenderFunc adapts a plain function to the Renderer interface
type RenderFunc func() []string

// Render implements Renderer
func (f RenderFunc) Render() []string { return f() }

type opKind int

const (
	opSend opKind = iota
	opEdit
	opDelete
)

// messageOp is one planned chat-API call
type messageOp struct {
	kind    opKind
	handle  *messageHandle
	content string
}

// messageHandle tracks one sent message and its last-known content
type messageHandle struct {
	id      string
	content string
}

// MutableBundle tracks the chat messages that currently display one
// renderer's output. The handle list is owned solely by the dispatch loop.
type MutableBundle struct {
	bundleID  string
	guildID   string
	channelID string
	sticky    bool
	renderer  Renderer

	handles          []*messageHandle
	lastDispatchedAt time.Time

	pending   bool
	pendingAt time.Time
	removed   bool
}

// planDispatch compares the new page contents against the tracked messages
// and returns the minimal operation list. When clearExisting is set all
// tracked messages are deleted and the content re-sent from scratch.
func (b *MutableBundle) planDispatch(content []string, clearExisting bool) []messageOp {
	var ops []messageOp

	if clearExisting && len(b.handles) > 0 {
		for _, h := range b.handles {
			if h.id != "" {
				ops = append(ops, messageOp{kind: opDelete, handle: h})
			}
		}
		b.handles = nil
	}

	if len(b.handles) == 0 {
		for _, page := range content {
			h := &messageHandle{content: page}
			b.handles = append(b.handles, h)
			ops = append(ops, messageOp{kind: opSend, handle: h, content: page})
		}
		return ops
	}

	existingCount := len(b.handles)
	newCount := len(content)

	// Shrink: prefer deleting messages whose content matches nothing in the
	// new output. With messages [A,B,C,D] and new content [A,B,D] only C is
	// deleted; the survivors line up with the new pages.
	if existingCount > newCount {
		matched := b.matchExistingContent(content)
		expectedDeletes := existingCount - newCount
		deletes := 0
		var kept []*messageHandle
		for index := existingCount - 1; index >= 0; index-- {
			h := b.handles[index]
			if _, ok := matched[index]; ok {
				kept = append([]*messageHandle{h}, kept...)
				continue
			}
			if deletes < expectedDeletes {
				ops = append(ops, messageOp{kind: opDelete, handle: h})
				deletes++
				continue
			}
			ops = append(ops, messageOp{kind: opEdit, handle: h, content: content[index]})
			kept = append([]*messageHandle{h}, kept...)
		}
		b.handles = kept
		return ops
	}

	// Same length or grow: edit changed pages in place
	matched := b.matchExistingContent(content)
	for index, h := range b.handles {
		if newIndex, ok := matched[index]; ok && newIndex == index {
			continue
		}
		ops = append(ops, messageOp{kind: opEdit, handle: h, content: content[index]})
	}

	for i := existingCount; i < newCount; i++ {
		h := &messageHandle{content: content[i]}
		b.handles = append(b.handles, h)
		ops = append(ops, messageOp{kind: opSend, handle: h, content: content[i]})
	}

	return ops
}

// matchExistingContent maps existing handle indexes to the first new page
// with identical content
func (b *MutableBundle) matchExistingContent(content []string) map[int]int {
	mapping := map[int]int{}
	used := map[int]bool{}
	for newIndex, page := range content {
		for existingIndex, h := range b.handles {
			if used[existingIndex] {
				continue
			}
			if h.content == page {
				mapping[existingIndex] = newIndex
				used[existingIndex] = true
				break
			}
		}
	}
	return mapping
}

// planClearAll returns delete operations for every tracked message
func (b *MutableBundle) planClearAll() []messageOp {
	var ops []messageOp
	for _, h := range b.handles {
		if h.id != "" {
			ops = append(ops, messageOp{kind: opDelete, handle: h})
		}
	}
	b.handles = nil
	return ops
}

// forgetHandle drops a handle whose message no longer exists
func (b *MutableBundle) forgetHandle(target *messageHandle) {
	for i, h := range b.handles {
		if h == target {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			return
		}
	}
}

// isAnchoredBottom reports whether the bundle's messages are the newest in
// the channel. recentIDs is newest-first; our handles are oldest-first.
func (b *MutableBundle) isAnchoredBottom(recentIDs []string) bool {
	for count, histID := range recentIDs {
		index := len(b.handles) - 1 - count
		if index < 0 {
			break
		}
		h := b.handles[index]
		if h.id == "" || h.id != histID {
			return false
		}
	}
	return true
}
