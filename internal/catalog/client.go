package catalog

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"ymbot/internal/metrics"
)

// DefaultBaseURL is the public Yandex Music API
const DefaultBaseURL = "https://api.music.yandex.net"

// signSalt is mixed into the direct link signature
const signSalt = "XGRlBW9FXlekgbPrRHuSiA"

var (
	// ErrNotFound is returned when the catalog has no such track or album
	ErrNotFound = errors.New("not found in catalog")
	// ErrUnavailable is returned for items blocked in the current region or without rights
	ErrUnavailable = errors.New("not available for download")
	// ErrUnauthorized is returned when the token is rejected
	ErrUnauthorized = errors.New("catalog token rejected")
)

// StatusError is an unexpected HTTP status from the catalog
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog request %s returned status %d", e.URL, e.Code)
}

// Artist is a track or album artist
type Artist struct {
	Name string `json:"name"`
}

// Track is catalog track metadata
type Track struct {
	ID         ID       `json:"id"`
	Title      string   `json:"title"`
	Available  bool     `json:"available"`
	DurationMs int      `json:"durationMs"`
	Artists    []Artist `json:"artists"`
}

// Performer joins the artist names
func (t Track) Performer() string {
	return joinArtists(t.Artists)
}

// Album is catalog album metadata with its tracks
type Album struct {
	ID      ID        `json:"id"`
	Title   string    `json:"title"`
	Artists []Artist  `json:"artists"`
	Volumes [][]Track `json:"volumes"`
}

// Performer joins the artist names
func (a Album) Performer() string {
	return joinArtists(a.Artists)
}

// Tracks flattens all volumes in order
func (a Album) Tracks() []Track {
	var tracks []Track
	for _, v := range a.Volumes {
		tracks = append(tracks, v...)
	}
	return tracks
}

func joinArtists(artists []Artist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// ID accepts both numeric and string identifiers
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*id = ID(s)
	return nil
}

// Config configures a Client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a Yandex Music API client guarded by a circuit breaker
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

// NewClient creates a catalog client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Token == "" {
		logger.Warn("Catalog token not set, only previews will be available")
	}

	const name = "yandex-music"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Catalog circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      cb,
		logger:  logger,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Track fetches metadata for ref, which is a track id or "track:album"
func (c *Client) Track(ctx context.Context, ref string) (Track, error) {
	var resp struct {
		Result []Track `json:"result"`
	}
	if err := c.getJSON(ctx, "/tracks/"+ref, &resp); err != nil {
		return Track{}, err
	}
	if len(resp.Result) == 0 {
		return Track{}, ErrNotFound
	}
	return resp.Result[0], nil
}

// AlbumWithTracks fetches an album together with its track list
func (c *Client) AlbumWithTracks(ctx context.Context, id string) (Album, error) {
	var resp struct {
		Result *Album `json:"result"`
	}
	if err := c.getJSON(ctx, "/albums/"+id+"/with-tracks", &resp); err != nil {
		return Album{}, err
	}
	if resp.Result == nil {
		return Album{}, ErrNotFound
	}
	return *resp.Result, nil
}

type downloadInfo struct {
	Codec           string `json:"codec"`
	BitrateInKbps   int    `json:"bitrateInKbps"`
	DownloadInfoURL string `json:"downloadInfoUrl"`
	Direct          bool   `json:"direct"`
}

type downloadLocation struct {
	XMLName xml.Name `xml:"download-info"`
	Host    string   `xml:"host"`
	Path    string   `xml:"path"`
	TS      string   `xml:"ts"`
	S       string   `xml:"s"`
}

// DirectLink resolves a signed mp3 link for the track at the best bitrate
func (c *Client) DirectLink(ctx context.Context, trackID string) (string, error) {
	var resp struct {
		Result []downloadInfo `json:"result"`
	}
	if err := c.getJSON(ctx, "/tracks/"+trackID+"/download-info", &resp); err != nil {
		return "", err
	}

	var mp3 []downloadInfo
	for _, info := range resp.Result {
		if info.Codec == "mp3" && info.DownloadInfoURL != "" {
			mp3 = append(mp3, info)
		}
	}
	if len(mp3) == 0 {
		return "", ErrUnavailable
	}
	sort.Slice(mp3, func(i, j int) bool { return mp3[i].BitrateInKbps > mp3[j].BitrateInKbps })
	best := mp3[0]

	body, err := c.get(ctx, best.DownloadInfoURL)
	if err != nil {
		return "", err
	}
	if best.Direct {
		return strings.TrimSpace(string(body)), nil
	}

	var loc downloadLocation
	if err := xml.Unmarshal(body, &loc); err != nil {
		return "", fmt.Errorf("failed to decode download info: %w", err)
	}
	return signedLink(loc), nil
}

func signedLink(loc downloadLocation) string {
	sum := md5.Sum([]byte(signSalt + strings.TrimPrefix(loc.Path, "/") + loc.S))
	return fmt.Sprintf("https://%s/get-mp3/%s/%s%s", loc.Host, hex.EncodeToString(sum[:]), loc.TS, loc.Path)
}

// Download saves the track to path. The file only appears once it is
// complete and non-empty.
func (c *Client) Download(ctx context.Context, trackID, path string) error {
	link, err := c.DirectLink(ctx, trackID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download track %s: %w", trackID, err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp, link); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write track %s: %w", trackID, err)
	}
	if n == 0 {
		return fmt.Errorf("track %s: %w", trackID, ErrUnavailable)
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.get(ctx, c.baseURL+path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "OAuth "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := statusErr(resp, url); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CatalogRequests.WithLabelValues("rejected").Inc()
		c.logger.Warn("Catalog request rejected by circuit breaker", zap.String("url", url))
	case err != nil:
		metrics.CatalogRequests.WithLabelValues("failure").Inc()
	default:
		metrics.CatalogRequests.WithLabelValues("success").Inc()
	}
	return body, err
}

func statusErr(resp *http.Response, url string) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnavailableForLegalReasons, http.StatusForbidden:
		return ErrUnavailable
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return &StatusError{Code: resp.StatusCode, URL: url}
	}
}

