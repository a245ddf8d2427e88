package hls

import "testing"

func TestInspect(t *testing.T) {
	tests := []struct {
		name string
		body string
		want PlaylistInfo
	}{
		{
			name: "master",
			body: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720\nhigh/index.m3u8\n",
			want: PlaylistInfo{Kind: KindMaster, Variants: 2},
		},
		{
			name: "media",
			body: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:10.0,\nseg1.ts\n#EXTINF:10.0,\nseg2.ts\n#EXT-X-ENDLIST\n",
			want: PlaylistInfo{Kind: KindMedia, Segments: 2, Ended: true},
		},
		{
			name: "not a playlist",
			body: "<html>blocked</html>",
			want: PlaylistInfo{Kind: KindUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Inspect(tt.body); got != tt.want {
				t.Errorf("Inspect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
