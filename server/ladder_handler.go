// Copyright 2024 The Rankserver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LadderRequest carries the parameters of a ladder or clan query. Filters that are
// NotSet are skipped, and pagination is either an explicit offset or a team id to
// center the page on.
type LadderRequest struct {
	Cmd     string   `json:"cmd"`
	Version int8     `json:"version"`
	Mode    int8     `json:"mode"`
	Region  int8     `json:"region"`
	League  int8     `json:"league"`
	Race    int8     `json:"race"`
	Key     int8     `json:"key"`
	Reverse bool     `json:"reverse"`
	Offset  int32    `json:"offset"`
	TeamID  uint32   `json:"team_id"`
	Limit   uint32   `json:"limit"`
	TeamIDs []uint32 `json:"team_ids"`
}

// NewLadderRequest returns a request with the documented defaults, json decoding then
// overrides the fields that are present.
func NewLadderRequest() LadderRequest {
	return LadderRequest{
		Version: VersionLotV,
		Mode:    Team1v1,
		Region:  NotSet,
		League:  NotSet,
		Race:    NotSet,
		Key:     SortKeyLadderRank,
		Offset:  -1,
	}
}

// LadderTeam is one row of a ladder response.
type LadderTeam struct {
	Rank     uint32  `json:"rank"`
	TeamID   uint32  `json:"team_id"`
	Region   int8    `json:"region"`
	League   int8    `json:"league"`
	Tier     int8    `json:"tier"`
	MMR      int16   `json:"mmr"`
	Points   float32 `json:"points"`
	Wins     uint32  `json:"wins"`
	Losses   uint32  `json:"losses"`
	WinRate  float32 `json:"win_rate"`
	DataTime uint32  `json:"data_time"`
	M0Race   int8    `json:"m0_race"`
	M1Race   int8    `json:"m1_race"`
	M2Race   int8    `json:"m2_race"`
	M3Race   int8    `json:"m3_race"`
}

// LadderResponse is the reply to a ladder or clan query.
type LadderResponse struct {
	Code   string       `json:"code"`
	Count  uint32       `json:"count"`
	Offset int32        `json:"offset"`
	Teams  []LadderTeam `json:"teams"`
}

// LadderHandler serves the most recent ranking from memory, globally sorted on version
// and mode. One mutex guards the records and the reload bookkeeping for the duration
// of every query, linear serving is acceptable at the scales involved since the
// dominant cost is the sort.
type LadderHandler struct {
	mu sync.Mutex

	logger          *zap.Logger
	store           RankingStore
	keepAPIDataDays int
	refreshInterval time.Duration

	lastChecked time.Time
	ranking     Ranking
	teamRanks   []TeamRank
}

func NewLadderHandler(logger *zap.Logger, store RankingStore, config *RankingConfig) *LadderHandler {
	return &LadderHandler{
		logger:          logger,
		store:           store,
		keepAPIDataDays: config.KeepAPIDataDays,
		refreshInterval: time.Duration(config.RefreshIntervalSec) * time.Second,
	}
}

// refreshRanking checks the store for a new published ranking, at most once per
// refresh interval unless forced, and swaps the served records if one exists.
func (h *LadderHandler) refreshRanking(ctx context.Context, force bool) error {
	now := time.Now()
	minDataTime := float64(now.Unix()) - float64(h.keepAPIDataDays)*24*3600

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastChecked.IsZero() && now.Sub(h.lastChecked) < h.refreshInterval && !force {
		return nil
	}
	h.lastChecked = now

	ranking, err := h.store.LatestRanking(ctx)
	if err != nil {
		return err
	}

	if ranking.ID == h.ranking.ID && ranking.Updated <= h.ranking.Updated {
		h.logger.Debug("No new ranking available")
		return nil
	}

	h.logger.Info("Loading ranking", zap.Uint32("ranking_id", ranking.ID))
	teamRanks, err := h.store.LoadTeamRanks(ctx, ranking.ID, minDataTime)
	if err != nil {
		return err
	}
	// Requests filter on version and mode before sorting, so the new data must be
	// grouped on those or sorting would take too long.
	sort.Slice(teamRanks, func(i, j int) bool { return lessVersionModeWorldRank(&teamRanks[i], &teamRanks[j]) })
	h.teamRanks = teamRanks
	h.ranking = ranking
	h.logger.Info("Ranking loaded and sorted", zap.Int("count", len(teamRanks)))
	return nil
}

// Refresh forces a reload check.
func (h *LadderHandler) Refresh(ctx context.Context) error {
	h.logger.Info("Got refresh ping")
	return h.refreshRanking(ctx, true)
}

// findSpan returns the contiguous records of one version and mode.
func findSpan(teamRanks []TeamRank, version, mode int8) (int, int) {
	start := 0
	for ; start < len(teamRanks) && !(teamRanks[start].Version == version && teamRanks[start].Mode == mode); start++ {
	}
	end := start
	for ; end < len(teamRanks) && teamRanks[end].Version == version && teamRanks[end].Mode == mode; end++ {
	}
	return start, end
}

// sortAndFilterSpan sorts the span in place with the request's display order and
// narrows it to the records that pass the filter, which form a prefix of the sorted
// span after skipping leading non-matches. The strict comparator for the same request
// is returned for rank computation.
func sortAndFilterSpan(span []TeamRank, req *LadderRequest) (CmpTR, []TeamRank) {
	display := NewCmpTR(req.Reverse, req.Region, req.League, req.Race, req.Key, false)
	sort.SliceStable(span, func(i, j int) bool { return display.Less(&span[i], &span[j]) })

	strict := NewCmpTR(req.Reverse, req.Region, req.League, req.Race, req.Key, true)

	start := 0
	for ; start < len(span) && !strict.Use(&span[start]); start++ {
	}
	end := start
	for ; end < len(span) && strict.Use(&span[end]); end++ {
	}
	return strict, span[start:end]
}

// buildTeams emits response rows starting at span[0], assigning dense 1-based ranks.
// The starting rank depends on records before the span and is passed in, offset is the
// position of span[0] within the filtered records.
func buildTeams(cmp *CmpTR, span []TeamRank, rank uint32, offset int32) []LadderTeam {
	teams := make([]LadderTeam, 0, len(span))
	if len(span) == 0 {
		return teams
	}

	last := span[0]
	for i := range span {
		tr := &span[i]
		if !cmp.Equal(&last, tr) {
			rank = uint32(i) + uint32(offset) + 1
			last = *tr
		}
		winRate := float32(0)
		if tr.Wins > 0 || tr.Losses > 0 {
			winRate = float32(100*tr.Wins) / float32(tr.Wins+tr.Losses)
		}
		teams = append(teams, LadderTeam{
			Rank:     rank,
			TeamID:   tr.TeamID,
			Region:   tr.Region,
			League:   tr.League,
			Tier:     tr.Tier,
			MMR:      tr.MMR,
			Points:   tr.Points,
			Wins:     tr.Wins,
			Losses:   tr.Losses,
			WinRate:  winRate,
			DataTime: uint32(tr.DataTime),
			M0Race:   tr.Race0,
			M1Race:   tr.Race1,
			M2Race:   tr.Race2,
			M3Race:   tr.Race3,
		})
	}
	return teams
}

// Ladder returns one page of the ladder for the requested version and mode, sorted
// and filtered per the request. The page is addressed by offset, or by team id which
// centers the page just above the team.
func (h *LadderHandler) Ladder(ctx context.Context, req *LadderRequest) (*LadderResponse, error) {
	if err := h.refreshRanking(ctx, false); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start, end := findSpan(h.teamRanks, req.Version, req.Mode)
	cmpStrict, span := sortAndFilterSpan(h.teamRanks[start:end], req)
	count := uint32(len(span))

	response := &LadderResponse{Code: "ok", Count: count}

	offset := req.Offset
	if offset == -1 && req.TeamID != 0 {
		// Use team based offset, the page starts a few records above the team.
		for o := range span {
			if span[o].TeamID == req.TeamID {
				offset = int32(o) - 10
				break
			}
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset > int32(count) {
		offset = int32(count)
	}
	response.Offset = offset

	if count == 0 || offset == int32(count) {
		response.Teams = []LadderTeam{}
		return response, nil
	}

	// Go back to the actual start of the tie run covering the page's first record,
	// its position decides the rank to start with.
	rankStart := offset
	first := span[offset]
	var rank uint32
	for {
		if !cmpStrict.Equal(&span[rankStart], &first) {
			// This is the first record that is not in the run, the run starts just
			// after it.
			rank = uint32(rankStart) + 2
			break
		}
		if rankStart == 0 {
			rank = 1
			break
		}
		rankStart--
	}

	pageEnd := offset + int32(req.Limit)
	if pageEnd > int32(count) {
		pageEnd = int32(count)
	}
	response.Teams = buildTeams(&cmpStrict, span[offset:pageEnd], rank, offset)
	return response, nil
}

// Clan returns the lotv 1v1 rankings of a set of teams, sorted and filtered per the
// request.
func (h *LadderHandler) Clan(ctx context.Context, req *LadderRequest) (*LadderResponse, error) {
	if err := h.refreshRanking(ctx, false); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	teamIDs := make(map[uint32]struct{}, len(req.TeamIDs))
	for _, id := range req.TeamIDs {
		teamIDs[id] = struct{}{}
	}

	start, end := findSpan(h.teamRanks, VersionLotV, Team1v1)
	teamRanks := make([]TeamRank, 0, len(teamIDs))
	for i := start; i < end; i++ {
		if _, ok := teamIDs[h.teamRanks[i].TeamID]; ok {
			teamRanks = append(teamRanks, h.teamRanks[i])
		}
	}

	cmpStrict, span := sortAndFilterSpan(teamRanks, req)

	response := &LadderResponse{Code: "ok", Count: uint32(len(span))}
	response.Teams = buildTeams(&cmpStrict, span, 1, 0)
	return response, nil
}

// Ranking returns the metadata of the currently served ranking.
func (h *LadderHandler) Ranking() Ranking {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ranking
}
