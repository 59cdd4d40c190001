// Package catalog talks to the Yandex Music API: link classification,
// track and album metadata, and track downloads.
package catalog

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Kind classifies a music link
type Kind int

const (
	KindUnknown Kind = iota
	// KindTrackInAlbum is /album/A/track/T
	KindTrackInAlbum
	// KindTrack is /track/T or any link carrying track=T
	KindTrack
	// KindAlbum is /album/A without a track
	KindAlbum
)

func (k Kind) String() string {
	switch k {
	case KindTrackInAlbum:
		return "track_in_album"
	case KindTrack:
		return "track"
	case KindAlbum:
		return "album"
	default:
		return "unknown"
	}
}

// IsTrack reports whether the link resolves to a single track
func (k Kind) IsTrack() bool {
	return k == KindTrack || k == KindTrackInAlbum
}

// ErrUnsupportedLink is returned for links that name neither a track nor an album
var ErrUnsupportedLink = errors.New("unsupported music link")

// Link is a classified music link
type Link struct {
	Kind    Kind
	TrackID string
	AlbumID string
}

// TrackRef is the identifier the API expects for the track
func (l Link) TrackRef() string {
	if l.Kind == KindTrackInAlbum {
		return l.TrackID + ":" + l.AlbumID
	}
	return l.TrackID
}

var (
	albumRe    = regexp.MustCompile(`/album/(\d+)`)
	trackRe    = regexp.MustCompile(`/track/(\d+)`)
	anyTrackRe = regexp.MustCompile(`track[=/](\d+)`)
)

// ParseURL classifies raw into exactly one Kind
func ParseURL(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, ErrUnsupportedLink
	}

	album := albumRe.FindStringSubmatch(u.Path)
	track := trackRe.FindStringSubmatch(u.Path)
	switch {
	case album != nil && track != nil:
		return Link{Kind: KindTrackInAlbum, TrackID: track[1], AlbumID: album[1]}, nil
	case track != nil:
		return Link{Kind: KindTrack, TrackID: track[1]}, nil
	case album != nil:
		return Link{Kind: KindAlbum, AlbumID: album[1]}, nil
	}

	if m := anyTrackRe.FindStringSubmatch(raw); m != nil {
		return Link{Kind: KindTrack, TrackID: m[1]}, nil
	}
	return Link{}, ErrUnsupportedLink
}

// IsMusicLink reports whether text looks like a Yandex Music track or album link
func IsMusicLink(text string) bool {
	return strings.Contains(text, "music.yandex") &&
		(strings.Contains(text, "track") || strings.Contains(text, "album"))
}

var unsafeFileChars = strings.NewReplacer(`\`, "", "/", "", "*", "", "?", "", ":", "", `"`, "", "<", "", ">", "", "|", "")

// SafeFileName strips characters that are not allowed in file names
func SafeFileName(name string) string {
	return strings.TrimSpace(unsafeFileChars.Replace(name))
}
