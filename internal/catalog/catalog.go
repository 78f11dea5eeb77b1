// Package catalog selects race maps from the TrackMania Exchange API.
//
// Lookup never fails outward: it retries against the primary filtered
// search, then a narrower campaign query, then a fixed built-in list,
// always returning a usable map. Mappack lookups are deterministic per
// (pack, position) and cached in Redis when a client is connected.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tmchess/tmchess/internal/cache"
)

// DefaultBaseURL is the production TMX endpoint.
const DefaultBaseURL = "https://trackmania.exchange"

const userAgent = "TMChess/1.0"

// packCacheTTL bounds how long a mappack track list is served from Redis.
const packCacheTTL = 10 * time.Minute

// Authors and mappacks excluded from random selection regardless of
// client filters.
var (
	blacklistedAuthors  = []string{}
	blacklistedMappacks = []int{7173}
)

// Words that disqualify a map by name in the primary search.
var blacklistedWords = []string{"kacky", "lol", "meme", "troll"}

// Map identifies one race map.
type Map struct {
	UID  int    `json:"mapUid"`
	Name string `json:"mapName"`
}

// Filters narrows the random map search. Zero values mean "no filter".
type Filters struct {
	AuthorTimeMax *int     `json:"authortimemax,omitempty"`
	AuthorTimeMin *int     `json:"authortimemin,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ExcludeTags   []string `json:"excludeTags,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	MapType       string   `json:"maptype,omitempty"`
	Author        string   `json:"author,omitempty"`
	Name          string   `json:"name,omitempty"`
}

// Service performs catalog lookups.
type Service struct {
	BaseURL string
	Client  *http.Client
	Log     *logrus.Logger
}

// NewService returns a Service against baseURL (DefaultBaseURL if empty).
func NewService(baseURL string, log *logrus.Logger) *Service {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Log:     log,
	}
}

// tmxTrack is the subset of a TMX track record we care about.
type tmxTrack struct {
	TrackID    int    `json:"TrackID"`
	GbxMapName string `json:"GbxMapName"`
	Name       string `json:"Name"`
}

func (t tmxTrack) toMap() Map {
	name := t.GbxMapName
	if name == "" {
		name = t.Name
	}
	if name == "" {
		name = "Unknown Map"
	}
	return Map{UID: t.TrackID, Name: name}
}

// Lookup returns a random map matching the filters. It never fails:
// primary search errors fall back to the campaign query, and campaign
// errors fall back to the built-in list.
func (s *Service) Lookup(ctx context.Context, f Filters) Map {
	if m, ok := s.searchRandom(ctx, f); ok {
		return m
	}
	s.Log.Warn("catalog: primary search failed, trying campaign fallback")
	if m, ok := s.campaignFallback(ctx); ok {
		return m
	}
	s.Log.Warn("catalog: campaign fallback failed, using built-in map")
	return builtinFallback()
}

// searchRandom runs the primary filtered search. A random page and sort
// order spread successive lookups across the catalog.
func (s *Service) searchRandom(ctx context.Context, f Filters) (Map, bool) {
	sortOrders := []string{"TrackID", "ReplayCount", "AwardCount", "AuthorTime", "UploadedAt"}

	params := url.Values{}
	params.Set("api", "on")
	params.Set("limit", "100")
	params.Set("mtype", "TM_Race")
	params.Set("page", strconv.Itoa(rand.IntN(200)))
	params.Set("order", sortOrders[rand.IntN(len(sortOrders))])
	if rand.IntN(2) == 0 {
		params.Set("orderdir", "ASC")
	} else {
		params.Set("orderdir", "DESC")
	}

	if f.AuthorTimeMax != nil {
		params.Set("authortimemax", strconv.Itoa(*f.AuthorTimeMax))
	} else {
		params.Set("authortimemax", "60")
	}
	if f.AuthorTimeMin != nil {
		params.Set("authortimemin", strconv.Itoa(*f.AuthorTimeMin))
	}
	for _, tag := range f.Tags {
		params.Add("tags", tag)
	}

	// Kacky and LOL maps are excluded even when the client asked for
	// no tag exclusions.
	excluded := []string{"Kacky", "LOL"}
	for _, tag := range f.ExcludeTags {
		if tag != "Kacky" && tag != "LOL" {
			excluded = append(excluded, tag)
		}
	}
	for _, tag := range excluded {
		params.Add("etags", tag)
	}

	if f.Difficulty != "" {
		params.Set("difficulty", f.Difficulty)
	}
	if f.MapType != "" {
		params.Set("maptype", f.MapType)
	}
	if f.Author != "" {
		params.Set("author", f.Author)
	}
	if f.Name != "" {
		params.Set("name", f.Name)
	}
	for _, a := range blacklistedAuthors {
		params.Add("eauthor", a)
	}
	for _, p := range blacklistedMappacks {
		params.Add("emappack", strconv.Itoa(p))
	}

	tracks, err := s.search(ctx, params)
	if err != nil {
		s.Log.Warnf("catalog: search error: %v", err)
		return Map{}, false
	}

	filtered := tracks[:0:0]
	for _, t := range tracks {
		lower := strings.ToLower(t.GbxMapName + " " + t.Name)
		banned := false
		for _, w := range blacklistedWords {
			if strings.Contains(lower, w) {
				banned = true
				break
			}
		}
		if !banned {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return Map{}, false
	}
	return filtered[rand.IntN(len(filtered))].toMap(), true
}

// campaignFallback draws from the official campaign maps.
func (s *Service) campaignFallback(ctx context.Context) (Map, bool) {
	params := url.Values{}
	params.Set("api", "on")
	params.Set("limit", "25")
	params.Set("mtype", "TM_Race")
	params.Set("authorlogin", "nadeo")
	params.Set("tags", "23")
	params.Set("order", "TrackID")
	params.Set("orderdir", "DESC")

	tracks, err := s.search(ctx, params)
	if err != nil || len(tracks) == 0 {
		return Map{}, false
	}
	return tracks[rand.IntN(len(tracks))].toMap(), true
}

// search queries /mapsearch2/search, which wraps tracks in {"results": [...]}.
func (s *Service) search(ctx context.Context, params url.Values) ([]tmxTrack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.BaseURL+"/mapsearch2/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tmx search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Results []tmxTrack `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tmx search: decode: %w", err)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("tmx search: no results")
	}
	return body.Results, nil
}

// PackTracks returns the ordered track list of a mappack, consulting
// the Redis cache first when one is connected.
func (s *Service) PackTracks(ctx context.Context, packID int) ([]Map, error) {
	cacheKey := fmt.Sprintf("tmchess:mappack:%d", packID)
	if cache.Rdb != nil {
		if raw, err := cache.Rdb.Get(ctx, cacheKey).Result(); err == nil {
			var maps []Map
			if err := json.Unmarshal([]byte(raw), &maps); err == nil && len(maps) > 0 {
				return maps, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/mappack/get_mappack_tracks/%d", s.BaseURL, packID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmx mappack %d: %w", packID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tmx mappack %d: unexpected status %d", packID, resp.StatusCode)
	}

	var tracks []tmxTrack
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("tmx mappack %d: decode: %w", packID, err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("tmx mappack %d: no tracks", packID)
	}

	maps := make([]Map, len(tracks))
	for i, t := range tracks {
		maps[i] = t.toMap()
	}

	if cache.Rdb != nil {
		if raw, err := json.Marshal(maps); err == nil {
			if err := cache.Rdb.Set(ctx, cacheKey, raw, packCacheTTL).Err(); err != nil {
				s.Log.Warnf("catalog: mappack cache set: %v", err)
			}
		}
	}
	return maps, nil
}

// LookupFromPack returns the map at a board position (0..63) within a
// mappack, wrapping when the pack is shorter than the board.
func (s *Service) LookupFromPack(ctx context.Context, packID, position int) (Map, error) {
	if position < 0 || position > 63 {
		return Map{}, fmt.Errorf("invalid board position %d", position)
	}
	maps, err := s.PackTracks(ctx, packID)
	if err != nil {
		return Map{}, err
	}
	return maps[position%len(maps)], nil
}

// builtinFallback picks from the hardcoded last-resort list.
func builtinFallback() Map {
	fallback := []Map{
		{UID: 216544, Name: "Winter 2025 - 01"},
		{UID: 216545, Name: "Winter 2025 - 02"},
		{UID: 216546, Name: "Winter 2025 - 03"},
		{UID: 216547, Name: "Winter 2025 - 04"},
		{UID: 216548, Name: "Winter 2025 - 05"},
	}
	return fallback[rand.IntN(len(fallback))]
}
