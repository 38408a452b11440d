package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyAPIBase  = "https://api.spotify.com/v1"

	spotifyPageLimit = 50
)

// SpotifyClient talks to the spotify web API using the client-credentials
// flow. The access token is refreshed lazily when expired.
type SpotifyClient struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewSpotifyClient creates a spotify catalog client
func NewSpotifyClient(clientID, clientSecret string) *SpotifyClient {
	return &SpotifyClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type spotifyTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type spotifyArtist struct {
	Name string `json:"name"`
}

type spotifyTrack struct {
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyPlaylistItem struct {
	Track *spotifyTrack `json:"track"`
}

type spotifyPlaylistPage struct {
	Items []spotifyPlaylistItem `json:"items"`
	Next  string                `json:"next"`
}

type spotifyAlbumPage struct {
	Items []spotifyTrack `json:"items"`
	Next  string         `json:"next"`
}

func (s *SpotifyClient) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.tokenExpires) {
		return s.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spotifyTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify token request returned status %d", resp.StatusCode)
	}

	var tokenResp spotifyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	s.token = tokenResp.AccessToken
	// Refresh a minute early so in-flight calls don't race expiry
	s.tokenExpires = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return s.token, nil
}

func (s *SpotifyClient) getJSON(ctx context.Context, apiURL string, out interface{}) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("spotify api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify api returned status %d for %s", resp.StatusCode, apiURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PlaylistTracks returns every track in a playlist, following pagination
func (s *SpotifyClient) PlaylistTracks(ctx context.Context, playlistID string) ([]TrackInfo, error) {
	var tracks []TrackInfo
	next := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d", spotifyAPIBase, playlistID, spotifyPageLimit)
	for next != "" {
		var page spotifyPlaylistPage
		if err := s.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track == nil {
				continue
			}
			tracks = append(tracks, trackInfoFrom(*item.Track))
		}
		next = page.Next
	}
	return tracks, nil
}

// AlbumTracks returns every track in an album, following pagination
func (s *SpotifyClient) AlbumTracks(ctx context.Context, albumID string) ([]TrackInfo, error) {
	var tracks []TrackInfo
	next := fmt.Sprintf("%s/albums/%s/tracks?limit=%d", spotifyAPIBase, albumID, spotifyPageLimit)
	for next != "" {
		var page spotifyAlbumPage
		if err := s.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			tracks = append(tracks, trackInfoFrom(item))
		}
		next = page.Next
	}
	return tracks, nil
}

// Track returns a single track as a one-element list
func (s *SpotifyClient) Track(ctx context.Context, trackID string) ([]TrackInfo, error) {
	var track spotifyTrack
	if err := s.getJSON(ctx, fmt.Sprintf("%s/tracks/%s", spotifyAPIBase, trackID), &track); err != nil {
		return nil, err
	}
	return []TrackInfo{trackInfoFrom(track)}, nil
}

func trackInfoFrom(track spotifyTrack) TrackInfo {
	names := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		names = append(names, a.Name)
	}
	return TrackInfo{
		Name:    track.Name,
		Artists: strings.Join(names, ", "),
	}
}
