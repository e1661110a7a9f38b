package crawler

import (
	"context"
	"io"
	"time"
)

// PersistenceSink stores finished job records.
type PersistenceSink interface {
	AddJob(ctx context.Context, rec JobRecord) (string, error)
	GetJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error)
	UpdateJob(ctx context.Context, id string, fields JobUpdate) error
}

// SessionStore persists cookies per target domain.
type SessionStore interface {
	Save(ctx context.Context, domain string, cookies []Cookie) error
	Load(ctx context.Context, domain string) []Cookie
}

// Browser creates isolated browser contexts.
type Browser interface {
	NewContext(ctx context.Context, owner string) (BrowserContext, error)
	Close() error
}

// Page drives the main tab of a browser context.
type Page interface {
	// Navigate loads url and waits for network idle plus the settle delay.
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	QueryContainers(ctx context.Context, selector string) ([]ContainerSnapshot, error)
	Click(ctx context.Context, ref ClickableRef) error
	GoBack(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
}

// TabController observes and manipulates the tabs of a browser context.
type TabController interface {
	MainTab() string
	Tabs(ctx context.Context) ([]TabHandle, error)
	// WatchNewTab registers a one-shot observer. The returned stop func must be
	// called once the caller no longer waits on the channel.
	WatchNewTab(ctx context.Context) (<-chan string, func())
	// WaitTabURL waits for the tab to reach a stable load state and returns its URL.
	WaitTabURL(ctx context.Context, tabID string, timeout time.Duration) (string, error)
	OpenTab(ctx context.Context, url string) (string, error)
	CloseTab(ctx context.Context, tabID string) error
}

// CookieJar reads and writes the cookies of a browser context.
type CookieJar interface {
	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// BrowserContext is one isolated browser context owned by a single worker.
type BrowserContext interface {
	Page
	TabController
	CookieJar
	Close() error
}

// ListingParser classifies the visible text of a listing container.
type ListingParser interface {
	Parse(text string) (ParsedListing, bool)
}

// DetailFetcher retrieves a listing's detail page over HTTP.
type DetailFetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// BlobStore persists page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher announces saved job records.
type Publisher interface {
	Publish(ctx context.Context, rec JobRecord) error
}

// RateLimiter throttles requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher produces a content hash.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock provides time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
