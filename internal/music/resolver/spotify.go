package resolver

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	spotifyLinkPattern  = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/\S+|spotify:[a-z]+:\S+`)
	spotifyTrackPattern = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]{2}/)?track/([a-zA-Z0-9]+)|spotify:track:([a-zA-Z0-9]+)`)

	ogTitlePattern       = regexp.MustCompile(`<meta property="og:title" content="([^"]+)"`)
	ogDescriptionPattern = regexp.MustCompile(`<meta property="og:description" content="([^"]+)"`)
)

func isSpotifyLink(s string) bool {
	return spotifyLinkPattern.MatchString(s)
}

func isSpotifyTrackLink(s string) bool {
	return spotifyTrackPattern.MatchString(s)
}

// CatalogPage reads public metadata off an external catalog page so the
// content can be re-found on the streaming source. Catalog pages carry no
// pullable audio themselves.
type CatalogPage interface {
	// TrackQuery returns a free-text search query ("artist title") for the
	// track a catalog page describes.
	TrackQuery(ctx context.Context, pageURL string) (string, error)
}

// SpotifyPage scrapes the open-graph metadata of public Spotify track pages.
// No credentials involved; pages that need them fail as unavailable.
type SpotifyPage struct {
	HTTP *http.Client
}

func NewSpotifyPage() *SpotifyPage {
	return &SpotifyPage{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (p *SpotifyPage) TrackQuery(ctx context.Context, pageURL string) (string, error) {
	m := spotifyTrackPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return "", fmt.Errorf("%w: not a track page", ErrStreamUnavailable)
	}
	trackID := m[1]
	if trackID == "" {
		trackID = m[2] // spotify:track: URI form
	}

	body, err := p.fetch(ctx, "https://open.spotify.com/track/"+trackID)
	if err != nil {
		return "", err
	}

	var title, artist string
	if m := ogTitlePattern.FindStringSubmatch(body); m != nil {
		title = html.UnescapeString(m[1])
	}
	if m := ogDescriptionPattern.FindStringSubmatch(body); m != nil {
		// Description reads "Artist · Song · Year"; the artist leads.
		desc := html.UnescapeString(m[1])
		artist = strings.TrimSpace(strings.SplitN(desc, "·", 2)[0])
	}

	if title == "" {
		return "", fmt.Errorf("%w: no track metadata on catalog page", ErrStreamUnavailable)
	}
	if artist != "" {
		return artist + " " + title, nil
	}
	return title, nil
}

func (p *SpotifyPage) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrStreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
