package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"cadence/backend/internal/music"
)

// YtdlpExecutable is the resolved path of the yt-dlp binary.
var YtdlpExecutable = "yt-dlp"

func init() {
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		YtdlpExecutable = path
	} else if path, err := exec.LookPath("ytdlp"); err == nil {
		YtdlpExecutable = path
	}
}

const defaultResultLimit = 5

// YtdlpEngine searches one platform through the yt-dlp extractor. The engine
// name doubles as the track Source.
type YtdlpEngine struct {
	name         string
	searchPrefix string // yt-dlp default-search prefix, e.g. "ytsearch"
	searchURL    string // alternatively, a search URL template with %s for the query
	youtube      bool   // part of the YouTube family for fallback ordering
}

// NewYouTubeEngine searches YouTube proper.
func NewYouTubeEngine() *YtdlpEngine {
	return &YtdlpEngine{name: "youtube", searchPrefix: "ytsearch", youtube: true}
}

// NewYouTubeMusicEngine searches YouTube Music.
func NewYouTubeMusicEngine() *YtdlpEngine {
	return &YtdlpEngine{
		name:      "youtube_music",
		searchURL: "https://music.youtube.com/search?q=%s",
		youtube:   true,
	}
}

// NewSoundCloudEngine searches SoundCloud.
func NewSoundCloudEngine() *YtdlpEngine {
	return &YtdlpEngine{name: "soundcloud", searchPrefix: "scsearch"}
}

// Name returns the engine name.
func (e *YtdlpEngine) Name() string { return e.name }

// YouTubeFamily reports whether the engine hits a YouTube property.
func (e *YtdlpEngine) YouTubeFamily() bool { return e.youtube }

// Search runs yt-dlp and parses one JSON document per result line.
func (e *YtdlpEngine) Search(ctx context.Context, query string, opts Options) ([]music.Track, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}

	var target string
	if e.searchURL != "" {
		target = fmt.Sprintf(e.searchURL, url.QueryEscape(query))
	} else {
		target = fmt.Sprintf("%s%d:%s", e.searchPrefix, limit, query)
	}

	cmd := exec.CommandContext(ctx, YtdlpExecutable,
		"--dump-json",
		"--flat-playlist",
		"--no-warnings",
		"--playlist-end", fmt.Sprint(limit),
		target,
	)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s search failed: %s", e.name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s search failed: %w", e.name, err)
	}

	var tracks []music.Track
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		track, perr := e.parseResult([]byte(line), opts.Requester)
		if perr != nil {
			return nil, perr
		}
		if track.Title == "" || track.ExternalID == "" {
			continue
		}
		tracks = append(tracks, track)
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

func (e *YtdlpEngine) parseResult(line []byte, requester string) (music.Track, error) {
	var info map[string]interface{}
	if err := json.Unmarshal(line, &info); err != nil {
		return music.Track{}, fmt.Errorf("%s: cannot parse result payload: %w", e.name, err)
	}

	title, _ := info["title"].(string)
	id, _ := info["id"].(string)
	author, _ := info["uploader"].(string)
	if author == "" {
		author, _ = info["channel"].(string)
	}
	pageURL, _ := info["webpage_url"].(string)
	if pageURL == "" {
		pageURL, _ = info["url"].(string)
	}
	thumbnail, _ := info["thumbnail"].(string)

	return music.Track{
		URL:             pageURL,
		Title:           title,
		Author:          author,
		DurationSeconds: int(floatField(info, "duration")),
		Thumbnail:       thumbnail,
		ExternalID:      id,
		ViewCount:       int64(floatField(info, "view_count")),
		Requester:       requester,
		Source:          e.name,
	}, nil
}

func floatField(info map[string]interface{}, key string) float64 {
	switch v := info[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
