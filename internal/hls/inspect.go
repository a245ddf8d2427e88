package hls

import (
	"strings"

	"github.com/grafov/m3u8"
)

// PlaylistKind classifies a decoded playlist.
type PlaylistKind string

const (
	KindMaster  PlaylistKind = "master"
	KindMedia   PlaylistKind = "media"
	KindUnknown PlaylistKind = "unknown"
)

// PlaylistInfo summarizes a playlist for logs and metrics.
type PlaylistInfo struct {
	Kind     PlaylistKind
	Variants int
	Segments int
	Ended    bool
}

// Inspect decodes body leniently and summarizes it. Playlists the decoder
// rejects are reported as KindUnknown; they are still proxied.
func Inspect(body string) PlaylistInfo {
	if !strings.HasPrefix(strings.TrimLeft(body, "\ufeff \t\r\n"), "#EXTM3U") {
		return PlaylistInfo{Kind: KindUnknown}
	}
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return PlaylistInfo{Kind: KindUnknown}
	}

	switch listType {
	case m3u8.MASTER:
		if master, ok := p.(*m3u8.MasterPlaylist); ok {
			return PlaylistInfo{Kind: KindMaster, Variants: len(master.Variants)}
		}
	case m3u8.MEDIA:
		if media, ok := p.(*m3u8.MediaPlaylist); ok {
			return PlaylistInfo{Kind: KindMedia, Segments: int(media.Count()), Ended: media.Closed}
		}
	}
	return PlaylistInfo{Kind: KindUnknown}
}
