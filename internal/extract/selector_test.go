package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "best+bestaudio/best"},
		{"best", "best+bestaudio/best"},
		{"worst", "worst"},
		{"1080p", "best[height<=1080]+bestaudio/best[height<=1080]/best"},
		{"720p", "best[height<=720]+bestaudio/best[height<=720]/best"},
		{"480p", "best[height<=480]+bestaudio/best[height<=480]/best"},
		{"360p", "best[height<=360]+bestaudio/best[height<=360]/best"},
		{"best[height<=480]", "best[height<=480]"},
		{"137+140", "137+140"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectorFor(tt.in))
		})
	}
}

func TestFallbackLadder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"default", "best", []string{"best", "480p", "720p", "worst"}},
		{"empty means best", "", []string{"best", "480p", "720p", "worst"}},
		{"user rung deduplicated", "480p", []string{"480p", "720p", "worst"}},
		{"720 first then 480", "720p", []string{"720p", "480p", "worst"}},
		{"worst collapses tail", "worst", []string{"worst", "480p", "720p"}},
		{"raw expression leads", "137+140", []string{"137+140", "480p", "720p", "worst"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FallbackLadder(tt.in))
		})
	}
}

func TestHeightCap(t *testing.T) {
	assert.Equal(t, 480, HeightCap("480p"))
	assert.Equal(t, 1080, HeightCap("1080p"))
	assert.Equal(t, 720, HeightCap("best[height<=720]+bestaudio/best"))
	assert.Equal(t, 0, HeightCap("best"))
	assert.Equal(t, 0, HeightCap("worst"))
	assert.Equal(t, 0, HeightCap("137+140"))
}

func TestIsPlaylistURL(t *testing.T) {
	assert.True(t, IsPlaylistURL("https://cdn.example.com/live/master.m3u8"))
	assert.True(t, IsPlaylistURL("https://cdn.example.com/live/index.M3U8?token=x"))
	assert.True(t, IsPlaylistURL("https://cdn.example.com/radio.m3u"))
	assert.False(t, IsPlaylistURL("https://youtube.com/watch?v=abc"))
	assert.False(t, IsPlaylistURL("https://cdn.example.com/video.mp4"))
	assert.False(t, IsPlaylistURL("://bad"))
}
