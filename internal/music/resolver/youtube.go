package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"

	"groovekeeper/internal/music/track"
)

var (
	youtubeHostPattern = regexp.MustCompile(`(?:https?://)?(?:www\.|music\.)?(youtube\.com|youtu\.be)/\S+`)
	searchHitPattern   = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)
	playlistHitPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)
)

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isYouTubeURL(s string) bool {
	return youtubeHostPattern.MatchString(s)
}

func isPlaylistURL(s string) bool {
	if !isYouTubeURL(s) {
		return false
	}
	return strings.Contains(s, "/playlist?") || (strings.Contains(s, "list=") && !strings.Contains(s, "watch?v="))
}

// cleanWatchURL strips tracking parameters from a watch link, keeping only
// the video id.
func cleanWatchURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	switch u.Hostname() {
	case "youtu.be":
		vid := strings.Trim(u.Path, "/")
		if vid == "" {
			return raw
		}
		return fmt.Sprintf("https://youtu.be/%s", vid)

	case "www.youtube.com", "youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			if vid := u.Query().Get("v"); vid != "" {
				return fmt.Sprintf("https://%s/watch?v=%s", u.Hostname(), vid)
			}
		}
		return raw

	default:
		return raw
	}
}

// YouTubeCatalog resolves against YouTube: free-text search and playlist
// expansion scrape the public result pages, stream materialization goes
// through the kkdai client.
type YouTubeCatalog struct {
	BaseURL string
	HTTP    *http.Client
	YT      *youtube.Client
}

func NewYouTubeCatalog() *YouTubeCatalog {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return &YouTubeCatalog{
		BaseURL: "https://www.youtube.com",
		HTTP:    httpClient,
		YT:      &youtube.Client{HTTPClient: httpClient},
	}
}

func (c *YouTubeCatalog) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", c.BaseURL, url.QueryEscape(query))
	body, err := c.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	matches := searchHitPattern.FindAllStringSubmatch(body, -1)
	var cands []Candidate
	seen := make(map[string]struct{})
	for _, m := range matches {
		if len(cands) == limit {
			break
		}
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cands = append(cands, Candidate{URL: fmt.Sprintf("%s/watch?v=%s", c.BaseURL, id)})
	}

	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no search hits", ErrNotFound)
	}
	return cands, nil
}

func (c *YouTubeCatalog) Expand(ctx context.Context, listURL string) ([]Candidate, error) {
	body, err := c.fetch(ctx, listURL)
	if err != nil {
		return nil, err
	}

	matches := playlistHitPattern.FindAllStringSubmatch(body, -1)
	var cands []Candidate
	seen := make(map[string]struct{})
	for _, m := range matches {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cands = append(cands, Candidate{URL: fmt.Sprintf("%s/watch?v=%s", c.BaseURL, id)})
	}

	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: empty playlist", ErrNotFound)
	}
	return cands, nil
}

func (c *YouTubeCatalog) StreamURL(ctx context.Context, candidateURL string) (Candidate, track.StreamLocator, error) {
	video, err := c.YT.GetVideoContext(ctx, candidateURL)
	if err != nil {
		return Candidate{}, "", classifyYouTubeErr(err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return Candidate{}, "", fmt.Errorf("%w: no audio formats", ErrStreamUnavailable)
	}

	link, err := c.YT.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return Candidate{}, "", classifyYouTubeErr(err)
	}

	cand := Candidate{
		URL:      candidateURL,
		Title:    video.Title,
		Duration: video.Duration,
	}
	return cand, track.StreamLocator(link), nil
}

func (c *YouTubeCatalog) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTP.Do(req)
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

// classifyYouTubeErr maps kkdai client failures onto the resolution
// taxonomy so the session can decide on retry vs auto-advance.
func classifyYouTubeErr(err error) error {
	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		if int(status) == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}

	var playability *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playability) {
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "invalid") {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
}
