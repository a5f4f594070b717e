package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"groovekeeper/internal/music/track"
)

type fakeCatalog struct {
	mu          sync.Mutex
	searchHits  []Candidate
	expandHits  []Candidate
	streamErrs  []error // consumed one per StreamURL call, nil = success
	streamCalls int
	searchCalls int
	expandCalls int
	lastLimit   int
	lastQuery   string
}

func (c *fakeCatalog) Search(_ context.Context, query string, limit int) ([]Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchCalls++
	c.lastLimit = limit
	c.lastQuery = query
	if len(c.searchHits) > limit {
		return c.searchHits[:limit], nil
	}
	return c.searchHits, nil
}

func (c *fakeCatalog) Expand(_ context.Context, _ string) ([]Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expandCalls++
	return c.expandHits, nil
}

func (c *fakeCatalog) StreamURL(_ context.Context, candidateURL string) (Candidate, track.StreamLocator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamCalls++
	if len(c.streamErrs) > 0 {
		err := c.streamErrs[0]
		c.streamErrs = c.streamErrs[1:]
		if err != nil {
			return Candidate{}, "", err
		}
	}
	cand := Candidate{URL: candidateURL, Title: "resolved title", Duration: 3 * time.Minute}
	return cand, track.StreamLocator("stream:" + candidateURL), nil
}

func newTestResolver(cat *fakeCatalog) *Resolver {
	return NewWithCatalog(cat, zerolog.Nop())
}

func TestResolveSearch(t *testing.T) {
	cat := &fakeCatalog{searchHits: []Candidate{
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa", Title: "first"},
		{URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb", Title: "second"},
		{URL: "https://www.youtube.com/watch?v=ccccccccccc"},
	}}
	r := newTestResolver(cat)

	tracks, err := r.Resolve(context.Background(), "some song", "tester", 3)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}
	if cat.lastLimit != 3 {
		t.Errorf("catalog received limit %d, want 3", cat.lastLimit)
	}
	for i, tr := range tracks {
		if tr.Source != track.SourceSearchResult {
			t.Errorf("track %d source = %s, want search", i, tr.Source)
		}
		if tr.Locator() != "" {
			t.Errorf("track %d already materialized", i)
		}
		if tr.RequestedBy != "tester" {
			t.Errorf("track %d requestedBy = %s", i, tr.RequestedBy)
		}
	}
	if tracks[0].Title != "first" {
		t.Errorf("track 0 title = %q, want candidate title", tracks[0].Title)
	}
	// Titleless hits fall back to the query so the UI never shows a blank.
	if tracks[2].Title != "some song" {
		t.Errorf("track 2 title = %q, want query fallback", tracks[2].Title)
	}
}

func TestResolveSearchLimitDefaultsToOne(t *testing.T) {
	cat := &fakeCatalog{searchHits: []Candidate{
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa"},
		{URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb"},
	}}
	r := newTestResolver(cat)

	tracks, err := r.Resolve(context.Background(), "query", "tester", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("got %d tracks, want 1", len(tracks))
	}
}

func TestResolveDirectNonCatalogURL(t *testing.T) {
	r := newTestResolver(&fakeCatalog{})

	tracks, err := r.Resolve(context.Background(), "https://cdn.example.com/audio.mp3", "tester", 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	tr := tracks[0]
	if tr.Source != track.SourceDirectStream {
		t.Errorf("source = %s, want direct", tr.Source)
	}
	if tr.Locator() != "https://cdn.example.com/audio.mp3" {
		t.Errorf("locator = %q, want the URL itself", tr.Locator())
	}
	if !tr.Playable() {
		t.Error("raw media URL should be playable without materialization")
	}
}

func TestResolveWatchURLStaysUnmaterialized(t *testing.T) {
	r := newTestResolver(&fakeCatalog{})

	raw := "https://www.youtube.com/watch?v=dQw4w9WgXcQ&feature=share&t=42"
	tracks, err := r.Resolve(context.Background(), raw, "tester", 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	tr := tracks[0]
	if tr.Reference != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("reference = %q, tracking params not stripped", tr.Reference)
	}
	if tr.Locator() != "" {
		t.Error("catalog page URL must stay unmaterialized until playback nears")
	}
}

func TestResolvePlaylist(t *testing.T) {
	cat := &fakeCatalog{expandHits: []Candidate{
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa", Title: "one"},
		{URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb", Title: "two"},
		{URL: "https://www.youtube.com/watch?v=ccccccccccc", Title: "three"},
	}}
	r := newTestResolver(cat)

	tracks, err := r.Resolve(context.Background(), "https://www.youtube.com/playlist?list=PL0123", "tester", 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cat.expandCalls != 1 {
		t.Errorf("Expand called %d times, want 1", cat.expandCalls)
	}
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}
	for i, want := range []string{"one", "two", "three"} {
		if tracks[i].Title != want {
			t.Errorf("track %d title = %q, want %q (playlist order)", i, tracks[i].Title, want)
		}
		if tracks[i].Source != track.SourceCatalogLink {
			t.Errorf("track %d source = %s, want catalog", i, tracks[i].Source)
		}
	}
}

func TestResolveEmptyReference(t *testing.T) {
	r := newTestResolver(&fakeCatalog{})
	if _, err := r.Resolve(context.Background(), "   ", "tester", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(blank) = %v, want ErrNotFound", err)
	}
}

func TestResolveSearchNoHits(t *testing.T) {
	r := newTestResolver(&fakeCatalog{})
	if _, err := r.Resolve(context.Background(), "nothing matches", "tester", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve with no hits = %v, want ErrNotFound", err)
	}
}

func TestMaterializeRetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("backoff makes this test slow")
	}
	cat := &fakeCatalog{streamErrs: []error{ErrRateLimited, ErrRateLimited, nil}}
	r := newTestResolver(cat)

	tr := track.New("https://www.youtube.com/watch?v=aaaaaaaaaaa", "", "tester", track.SourceSearchResult)
	m, err := r.Materialize(context.Background(), tr)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if m.Locator == "" {
		t.Error("got empty locator after successful retry")
	}
	if cat.streamCalls != 3 {
		t.Errorf("StreamURL called %d times, want 3", cat.streamCalls)
	}
}

func TestMaterializeNonRetryableFailsFast(t *testing.T) {
	cat := &fakeCatalog{streamErrs: []error{ErrStreamUnavailable}}
	r := newTestResolver(cat)

	tr := track.New("https://www.youtube.com/watch?v=aaaaaaaaaaa", "", "tester", track.SourceSearchResult)
	if _, err := r.Materialize(context.Background(), tr); !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("Materialize = %v, want ErrStreamUnavailable", err)
	}
	if cat.streamCalls != 1 {
		t.Errorf("StreamURL called %d times, want 1 (no retry)", cat.streamCalls)
	}
}

func TestMaterializeAlreadyLocated(t *testing.T) {
	cat := &fakeCatalog{}
	r := newTestResolver(cat)

	tr := track.New("ref", "t", "tester", track.SourceDirectStream)
	tr.SetLocator("stream:already")

	m, err := r.Materialize(context.Background(), tr)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if m.Locator != "stream:already" {
		t.Errorf("locator = %q, want the existing one", m.Locator)
	}
	if cat.streamCalls != 0 {
		t.Errorf("StreamURL called %d times on a located track, want 0", cat.streamCalls)
	}
}

func TestMaterializeReturnsMetadataWithoutWriting(t *testing.T) {
	r := newTestResolver(&fakeCatalog{})

	tr := track.New("https://www.youtube.com/watch?v=aaaaaaaaaaa", "", "tester", track.SourceSearchResult)
	m, err := r.Materialize(context.Background(), tr)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if m.Title != "resolved title" {
		t.Errorf("title = %q, want catalog metadata", m.Title)
	}
	if m.Duration != 3*time.Minute {
		t.Errorf("duration = %v, want catalog metadata", m.Duration)
	}

	// The descriptor belongs to the session loop; Materialize hands the
	// metadata back instead of writing it.
	if tr.Title != "" || tr.Duration != 0 || tr.Locator() != "" {
		t.Errorf("Materialize wrote to the track: title=%q duration=%v locator=%q",
			tr.Title, tr.Duration, tr.Locator())
	}
}

func TestURLClassification(t *testing.T) {
	cases := []struct {
		in           string
		url, yt, pls bool
	}{
		{"some search words", false, false, false},
		{"https://cdn.example.com/a.mp3", true, false, false},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true, true, false},
		{"https://youtu.be/dQw4w9WgXcQ", true, true, false},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", true, true, false},
		{"https://www.youtube.com/playlist?list=PL0123", true, true, true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL0123", true, true, false},
	}
	for _, c := range cases {
		if got := isURL(c.in); got != c.url {
			t.Errorf("isURL(%q) = %v, want %v", c.in, got, c.url)
		}
		if got := isYouTubeURL(c.in); got != c.yt {
			t.Errorf("isYouTubeURL(%q) = %v, want %v", c.in, got, c.yt)
		}
		if got := isPlaylistURL(c.in); got != c.pls {
			t.Errorf("isPlaylistURL(%q) = %v, want %v", c.in, got, c.pls)
		}
	}
}

func TestCleanWatchURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=xyz", "https://youtu.be/dQw4w9WgXcQ"},
		{"https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"https://www.youtube.com/playlist?list=PL0123", "https://www.youtube.com/playlist?list=PL0123"},
	}
	for _, c := range cases {
		if got := cleanWatchURL(c.in); got != c.want {
			t.Errorf("cleanWatchURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
