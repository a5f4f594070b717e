// Package resolver turns user-supplied references (search terms, direct
// links, catalog links) into track descriptors, and materializes stream
// locators for them just in time.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"groovekeeper/internal/music/track"
)

// Candidate is one piece of content the catalog knows about.
type Candidate struct {
	URL      string
	Title    string
	Duration time.Duration
}

// Catalog is the upstream content provider. Errors returned by a Catalog
// should wrap ErrNotFound, ErrStreamUnavailable or ErrRateLimited where the
// cause is known.
type Catalog interface {
	// Search returns up to limit candidates for a free-text query.
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)

	// Expand lists the entries of a playlist/catalog link in order.
	Expand(ctx context.Context, listURL string) ([]Candidate, error)

	// StreamURL materializes a playable stream locator for a candidate
	// URL, along with refreshed metadata.
	StreamURL(ctx context.Context, candidateURL string) (Candidate, track.StreamLocator, error)
}

// Resolver resolves references into track descriptors. Safe for concurrent
// use by many sessions; upstream calls share one rate limiter.
type Resolver struct {
	catalog Catalog
	pages   CatalogPage
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a Resolver backed by the YouTube catalog.
func New(log zerolog.Logger) *Resolver {
	return NewWithCatalog(NewYouTubeCatalog(), log)
}

// NewWithCatalog creates a Resolver over a custom catalog.
func NewWithCatalog(cat Catalog, log zerolog.Logger) *Resolver {
	return &Resolver{
		catalog: cat,
		pages:   NewSpotifyPage(),
		limiter: rate.NewLimiter(rate.Limit(4), 8),
		log:     log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve turns a reference into one or more track descriptors. Descriptors
// for search results and catalog entries come back without a stream locator;
// Materialize fills those in when the track nears the queue front. Direct
// non-catalog links are playable immediately, ffmpeg pulls them as-is.
func (r *Resolver) Resolve(ctx context.Context, reference, requestedBy string, searchLimit int) ([]*track.Track, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	if searchLimit < 1 {
		searchLimit = 1
	}

	switch {
	case isSpotifyTrackLink(reference):
		return r.resolveCatalogPage(ctx, reference, requestedBy)
	case isSpotifyLink(reference):
		// Albums, playlists and artist pages need catalog credentials.
		return nil, fmt.Errorf("catalog link %q: %w", reference, ErrStreamUnavailable)
	case isPlaylistURL(reference):
		return r.resolveCatalog(ctx, reference, requestedBy)
	case isURL(reference):
		return r.resolveDirect(reference, requestedBy), nil
	default:
		return r.resolveSearch(ctx, reference, requestedBy, searchLimit)
	}
}

// resolveCatalogPage handles links to pages that describe a track without
// carrying its audio: the page metadata becomes a search query against the
// streaming catalog and the top hit stands in for the track.
func (r *Resolver) resolveCatalogPage(ctx context.Context, pageURL, requestedBy string) ([]*track.Track, error) {
	var query string
	err := withRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		query, err = r.pages.TrackQuery(ctx, pageURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog page %q: %w", pageURL, err)
	}

	tracks, err := r.resolveSearch(ctx, query, requestedBy, 1)
	if err != nil {
		return nil, err
	}
	for _, t := range tracks {
		t.Source = track.SourceCatalogLink
	}
	r.log.Debug().Str("page", pageURL).Str("query", query).Msg("mapped catalog page to search")
	return tracks, nil
}

func (r *Resolver) resolveDirect(reference, requestedBy string) []*track.Track {
	t := track.New(cleanWatchURL(reference), "", requestedBy, track.SourceDirectStream)
	if !isYouTubeURL(reference) {
		// Anything that is not a catalog page is assumed to be a raw
		// media URL the stream opener can pull directly.
		t.SetLocator(track.StreamLocator(reference))
	}
	return []*track.Track{t}
}

func (r *Resolver) resolveSearch(ctx context.Context, query, requestedBy string, limit int) ([]*track.Track, error) {
	var cands []Candidate
	err := withRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		cands, err = r.catalog.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("search %q: %w", query, ErrNotFound)
	}

	tracks := make([]*track.Track, 0, len(cands))
	for _, c := range cands {
		title := c.Title
		if title == "" {
			title = query
		}
		t := track.New(c.URL, title, requestedBy, track.SourceSearchResult)
		t.Duration = c.Duration
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (r *Resolver) resolveCatalog(ctx context.Context, listURL, requestedBy string) ([]*track.Track, error) {
	var cands []Candidate
	err := withRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		cands, err = r.catalog.Expand(ctx, listURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", listURL, err)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("expand %q: %w", listURL, ErrNotFound)
	}

	tracks := make([]*track.Track, 0, len(cands))
	for _, c := range cands {
		t := track.New(c.URL, c.Title, requestedBy, track.SourceCatalogLink)
		t.Duration = c.Duration
		tracks = append(tracks, t)
	}
	r.log.Debug().Int("tracks", len(tracks)).Str("list", listURL).Msg("expanded catalog link")
	return tracks, nil
}

// Materialize produces a stream locator for a descriptor, along with any
// refreshed metadata. It is cheap to call on an already-materialized track.
// Rate-limit failures are retried up to two times with backoff; everything
// else surfaces immediately.
//
// The descriptor is read, never written: applying the returned metadata is
// the owning session's job, on its command loop.
func (r *Resolver) Materialize(ctx context.Context, t *track.Track) (track.Materialization, error) {
	if loc := t.Locator(); loc != "" {
		return track.Materialization{Locator: loc}, nil
	}

	var (
		cand Candidate
		loc  track.StreamLocator
	)
	err := withRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		cand, loc, err = r.catalog.StreamURL(ctx, t.Reference)
		return err
	})
	if err != nil {
		return track.Materialization{}, fmt.Errorf("materialize %q: %w", t.Reference, err)
	}

	return track.Materialization{
		Locator:  loc,
		Title:    cand.Title,
		Duration: cand.Duration,
	}, nil
}
