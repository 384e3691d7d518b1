// policy/media.go
package policy

import "strings"

// MediaRef identifies a piece of uploaded media by its origin server and
// media ID, as encoded in an mxc:// URL.
type MediaRef struct {
	Domain  string
	MediaID string
}

// ParseMediaRef extracts the origin and media ID from an mxc:// URL. It is
// best-effort: anything that does not look like mxc://domain/mediaID yields
// ok == false. Query strings and fragments appended by some clients are
// stripped from the media ID.
func ParseMediaRef(raw string) (ref MediaRef, ok bool) {
	const scheme = "mxc://"
	if !strings.HasPrefix(raw, scheme) {
		return MediaRef{}, false
	}

	domain, mediaID, found := strings.Cut(raw[len(scheme):], "/")
	if !found || domain == "" {
		return MediaRef{}, false
	}
	if i := strings.IndexAny(mediaID, "?#"); i >= 0 {
		mediaID = mediaID[:i]
	}
	if mediaID == "" || strings.Contains(mediaID, "/") {
		return MediaRef{}, false
	}

	return MediaRef{Domain: domain, MediaID: mediaID}, true
}
