package search

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/jukeboxd/jukebox/pkg/bundle"
	"github.com/jukeboxd/jukebox/pkg/logging"
)

const (
	youtubeVideoPrefix = "https://www.youtube.com/watch?v="
	youtubeShortPrefix = "https://www.youtube.com/shorts/"

	fxTwitterPrefix = "https://fxtwitter.com"
	twitterPrefix   = "https://x.com"
)

var (
	spotifyPlaylistRegex = regexp.MustCompile(`^https://open\.spotify\.com/playlist/(?P<playlist_id>[a-zA-Z0-9]+)`)
	spotifyAlbumRegex    = regexp.MustCompile(`^https://open\.spotify\.com/album/(?P<album_id>[a-zA-Z0-9]+)`)
	spotifyTrackRegex    = regexp.MustCompile(`^https://open\.spotify\.com/track/(?P<track_id>[a-zA-Z0-9]+)`)

	youtubePlaylistRegex = regexp.MustCompile(`^https://(www\.)?youtube\.com/playlist\?list=(?P<playlist_id>[a-zA-Z0-9_-]+)`)
	youtubeVideoRegex    = regexp.MustCompile(`https://(www\.)?youtu(\.)?be(\.com)?/(watch\?v=)?(?P<video_id>.{11})`)
	youtubeShortRegex    = regexp.MustCompile(`^https://(www\.)?youtube\.com/shorts/(?P<video_id>.{11})`)
)

// Error carries both an internal message and the text shown to the user
type Error struct {
	Message     string
	UserMessage string
}

func (e *Error) Error() string {
	return e.Message
}

// TrackInfo is one catalog track, rendered as "<name> <artists>" for the
// downstream music search
type TrackInfo struct {
	Name    string
	Artists string
}

// SearchString returns the free-text query used to find the track's video
func (t TrackInfo) SearchString() string {
	return fmt.Sprintf("%s %s", t.Name, t.Artists)
}

// SpotifyCatalog expands spotify URLs into track lists
type SpotifyCatalog interface {
	PlaylistTracks(ctx context.Context, playlistID string) ([]TrackInfo, error)
	AlbumTracks(ctx context.Context, albumID string) ([]TrackInfo, error)
	Track(ctx context.Context, trackID string) ([]TrackInfo, error)
}

// PlaylistCatalog expands video-site playlist URLs into video ids
type PlaylistCatalog interface {
	PlaylistVideoIDs(ctx context.Context, playlistID string) ([]string, error)
}

// MusicSearcher resolves a free-text query to a canonical video id.
// An empty id with nil error means no result.
type MusicSearcher interface {
	SearchVideoID(ctx context.Context, query string) (string, error)
}

// RequestInput identifies who asked for what
type RequestInput struct {
	GuildID       string
	ChannelID     string
	RequesterName string
	RequesterID   string
	Input         string
}

// Options are the shuffle and truncation tokens parsed from the input
type Options struct {
	Shuffle bool
	Limit   int
}

// Resolver classifies user input and produces media requests. The catalog
// clients are optional; URLs needing a missing client fail with a user
// message.
type Resolver struct {
	spotify SpotifyCatalog
	youtube PlaylistCatalog
	logger  logging.Logger
}

// NewResolver creates a resolver. Pass nil for catalogs that are not
// configured.
func NewResolver(spotify SpotifyCatalog, youtube PlaylistCatalog, logger logging.Logger) *Resolver {
	return &Resolver{
		spotify: spotify,
		youtube: youtube,
		logger:  logger,
	}
}

// ParseOptions strips trailing "shuffle" and numeric tokens, in any order,
// and returns the cleaned search string
func ParseOptions(input string) (string, Options) {
	opts := Options{}
	tokens := strings.Fields(input)
	for len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if strings.EqualFold(last, "shuffle") {
			opts.Shuffle = true
			tokens = tokens[:len(tokens)-1]
			continue
		}
		if n, err := strconv.Atoi(last); err == nil && n > 0 && len(tokens) > 1 {
			opts.Limit = n
			tokens = tokens[:len(tokens)-1]
			continue
		}
		break
	}
	return strings.Join(tokens, " "), opts
}

// Resolve classifies the input and returns zero or more media requests.
// Catalog failures return a *Error whose UserMessage goes on the bundle.
func (r *Resolver) Resolve(ctx context.Context, in RequestInput) ([]*bundle.MediaRequest, error) {
	search, opts := ParseOptions(in.Input)

	requests, err := r.classify(ctx, in, search)
	if err != nil {
		return nil, err
	}

	if opts.Shuffle {
		rand.Shuffle(len(requests), func(i, j int) {
			requests[i], requests[j] = requests[j], requests[i]
		})
	}
	if opts.Limit > 0 && opts.Limit < len(requests) {
		requests = requests[:opts.Limit]
	}
	return requests, nil
}

func (r *Resolver) classify(ctx context.Context, in RequestInput, search string) ([]*bundle.MediaRequest, error) {
	if m := matchGroup(spotifyPlaylistRegex, search, "playlist_id"); m != "" {
		return r.resolveSpotify(ctx, in, func(c SpotifyCatalog) ([]TrackInfo, error) {
			return c.PlaylistTracks(ctx, m)
		})
	}
	if m := matchGroup(spotifyAlbumRegex, search, "album_id"); m != "" {
		return r.resolveSpotify(ctx, in, func(c SpotifyCatalog) ([]TrackInfo, error) {
			return c.AlbumTracks(ctx, m)
		})
	}
	if m := matchGroup(spotifyTrackRegex, search, "track_id"); m != "" {
		return r.resolveSpotify(ctx, in, func(c SpotifyCatalog) ([]TrackInfo, error) {
			return c.Track(ctx, m)
		})
	}

	if m := matchGroup(youtubePlaylistRegex, search, "playlist_id"); m != "" {
		if r.youtube == nil {
			return nil, &Error{
				Message:     "missing youtube creds",
				UserMessage: "Youtube Playlist URLs invalid, no youtube api credentials given to bot",
			}
		}
		videoIDs, err := r.youtube.PlaylistVideoIDs(ctx, m)
		if err != nil {
			return nil, &Error{
				Message:     fmt.Sprintf("issue fetching youtube info: %v", err),
				UserMessage: fmt.Sprintf("Issue gathering info from youtube url %q", search),
			}
		}
		var requests []*bundle.MediaRequest
		for _, id := range videoIDs {
			url := youtubeVideoPrefix + id
			req := bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, url, bundle.SearchTypePlaylistMember)
			requests = append(requests, req)
		}
		return requests, nil
	}

	if m := matchGroup(youtubeShortRegex, search, "video_id"); m != "" {
		url := youtubeShortPrefix + m
		return []*bundle.MediaRequest{
			bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, url, bundle.SearchTypeVideoURL),
		}, nil
	}
	if m := matchGroup(youtubeVideoRegex, search, "video_id"); m != "" {
		url := youtubeVideoPrefix + m
		return []*bundle.MediaRequest{
			bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, url, bundle.SearchTypeVideoURL),
		}, nil
	}

	if strings.Contains(search, fxTwitterPrefix) {
		url := strings.ReplaceAll(search, fxTwitterPrefix, twitterPrefix)
		return []*bundle.MediaRequest{
			bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, url, bundle.SearchTypeDirectURL),
		}, nil
	}

	if strings.Contains(search, "https://") {
		return []*bundle.MediaRequest{
			bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, search, bundle.SearchTypeDirectURL),
		}, nil
	}

	return []*bundle.MediaRequest{
		bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, search, bundle.SearchTypeFreeText),
	}, nil
}

func (r *Resolver) resolveSpotify(ctx context.Context, in RequestInput, fetch func(SpotifyCatalog) ([]TrackInfo, error)) ([]*bundle.MediaRequest, error) {
	if r.spotify == nil {
		return nil, &Error{
			Message:     "missing spotify creds",
			UserMessage: "Spotify URLs invalid, no spotify credentials available to bot",
		}
	}
	tracks, err := fetch(r.spotify)
	if err != nil {
		return nil, &Error{
			Message:     fmt.Sprintf("issue fetching spotify info: %v", err),
			UserMessage: "Issue gathering info from spotify url",
		}
	}
	var requests []*bundle.MediaRequest
	for _, track := range tracks {
		req := bundle.NewMediaRequest(in.GuildID, in.ChannelID, in.RequesterName, in.RequesterID, track.SearchString(), bundle.SearchTypeStreamingTrack)
		requests = append(requests, req)
	}
	return requests, nil
}

func matchGroup(re *regexp.Regexp, s, group string) string {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return ""
	}
	for i, name := range re.SubexpNames() {
		if name == group {
			return match[i]
		}
	}
	return ""
}
