package search

import (
	"context"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const youtubePageLimit = 50

// YouTubeClient wraps the youtube data API for playlist expansion and
// music search
type YouTubeClient struct {
	service *youtube.Service
}

// NewYouTubeClient creates a client authenticated with an API key
func NewYouTubeClient(ctx context.Context, apiKey string) (*YouTubeClient, error) {
	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &YouTubeClient{service: service}, nil
}

// PlaylistVideoIDs returns every video id in a playlist, following
// pagination
func (y *YouTubeClient) PlaylistVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := y.service.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(playlistID).
			MaxResults(youtubePageLimit).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			ids = append(ids, item.Snippet.ResourceId.VideoId)
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// SearchVideoID finds the best music video match for a free-text query.
// Returns an empty id when nothing matched.
func (y *YouTubeClient) SearchVideoID(ctx context.Context, query string) (string, error) {
	resp, err := y.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		VideoCategoryId("10").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil {
		return "", nil
	}
	return resp.Items[0].Id.VideoId, nil
}

// VideoURLFromID returns the canonical watch URL for a video id
func VideoURLFromID(videoID string) string {
	return youtubeVideoPrefix + videoID
}
