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
	"fmt"

	"go.uber.org/zap"
)

const findTeamRankWindowSize = 4

// FindTeamRank binary searches one persisted ranking blob for a team, reading only
// small windows of the blob. It returns the team's records for the highest game
// version present, empty when the team is not in the ranking. For 1v1 in separate race
// mmr seasons that can be several race keyed records, for other modes a single one.
func FindTeamRank(ctx context.Context, store RankingStore, ranking Ranking, teamID uint32) ([]TeamRank, error) {
	trh, err := store.LoadTeamRanksHeader(ctx, ranking.ID)
	if err != nil {
		return nil, err
	}

	imin := int32(0)
	imax := int32(trh.Count) - 1

	for count := 0; trh.Count > 0 && imax >= imin; {
		count++
		if count > 32 {
			return nil, fmt.Errorf("%w: team %d in ranking %d", ErrSearchLoop, teamID, ranking.ID)
		}

		imid := imin + (imax-imin)/2
		window, err := store.LoadTeamRankWindow(ctx, ranking.ID, trh.Version, uint32(imid), findTeamRankWindowSize)
		if err != nil {
			return nil, err
		}
		size := int32(len(window))
		if size == 0 {
			// Got nothing, can't do anything with that.
			return nil, nil
		}

		if window[0].TeamID > teamID {
			// Search lower.
			imax = imid - 1
			continue
		}
		if window[size-1].TeamID < teamID {
			// Search higher.
			imin = imid + findTeamRankWindowSize
			continue
		}

		// The window straddles where the team's run has to be, find it or conclude
		// none exists.

		hitLo, hitHi := int32(-1), int32(-1)
		for i := int32(0); i < size; i++ {
			if window[i].TeamID == teamID {
				if hitLo == -1 {
					hitLo = i
				}
				hitHi = i
			}
		}
		if hitLo == -1 {
			return nil, nil
		}

		// Tighten imin and imax when the hit boundary is inside the window.
		if hitLo > 0 {
			imin = imid + hitLo
		}
		if hitHi < size-1 {
			imax = imid + hitHi
		}

		hi := &window[hitHi]

		// Calculate definitive bounds for the full run. A race keyed record can have
		// earlier slots for lower races and later slots for higher races and later
		// game versions, a single record per team only extends by version.
		if hi.Race3 == RaceBest || hi.Race3 == RaceAny {
			imin = max32(imin, imid+hitHi-int32(hi.Race0-RaceLo))
			imax = min32(imax, imid+hitHi+int32(ranking.Version-hi.Version)*RaceCount+int32(RaceHi-hi.Race0))
		} else {
			imin = max32(imin, imid+hitHi)
			imax = min32(imax, imid+hitHi+int32(ranking.Version-hi.Version))
		}

		if imid <= imin && imax < imid+size {
			// The full run is inside the current window.
			return highestVersionRun(window[imin-imid:imax-imid+1], teamID), nil
		}

		// One more read covering exactly the computed bounds.
		window, err = store.LoadTeamRankWindow(ctx, ranking.ID, trh.Version, uint32(imin), uint32(imax-imin+1))
		if err != nil {
			return nil, err
		}
		return highestVersionRun(window, teamID), nil
	}
	return nil, nil
}

// highestVersionRun filters records to the team's run with the highest game version,
// later versions are preferred because they superseded earlier ones.
func highestVersionRun(window []TeamRank, teamID uint32) []TeamRank {
	maxVersion := int8(-1)
	for i := range window {
		if window[i].TeamID == teamID && window[i].Version > maxVersion {
			maxVersion = window[i].Version
		}
	}
	if maxVersion == -1 {
		return nil
	}
	run := make([]TeamRank, 0, RaceCount)
	for i := range window {
		if window[i].TeamID == teamID && window[i].Version == maxVersion {
			run = append(run, window[i])
		}
	}
	return run
}

func max32(x, y int32) int32 {
	if x > y {
		return x
	}
	return y
}

func min32(x, y int32) int32 {
	if x < y {
		return x
	}
	return y
}

// TeamRankingEntry is one historical ranking of a team as exposed by the api.
type TeamRankingEntry struct {
	League      int8    `json:"league"`
	Tier        int8    `json:"tier"`
	Version     int8    `json:"version"`
	DataTime    float64 `json:"data_time"`
	SeasonID    uint32  `json:"season_id"`
	Race0       int8    `json:"race0"`
	BestRace    bool    `json:"best_race"`
	MMR         *int16  `json:"mmr,omitempty"`
	Points      float32 `json:"points"`
	Wins        uint32  `json:"wins"`
	Losses      uint32  `json:"losses"`
	WorldRank   uint32  `json:"world_rank"`
	WorldCount  uint32  `json:"world_count"`
	RegionRank  uint32  `json:"region_rank"`
	RegionCount uint32  `json:"region_count"`
	LeagueRank  uint32  `json:"league_rank"`
	LeagueCount uint32  `json:"league_count"`
	LadderRank  uint32  `json:"ladder_rank"`
	LadderCount uint32  `json:"ladder_count"`
	ID          uint32  `json:"id"`
}

// TeamHistory reads a team's placement across all historical rankings through the
// windowed blob reader.
type TeamHistory struct {
	logger       *zap.Logger
	store        RankingStore
	seasonFilter uint32
}

func NewTeamHistory(logger *zap.Logger, store RankingStore, seasonFilter uint32) *TeamHistory {
	return &TeamHistory{logger: logger, store: store, seasonFilter: seasonFilter}
}

// RankingsForTeam returns one entry per historical ranking the team appears in,
// ordered by ranking data time. Unrated records are only accepted from before the mmr
// season.
func (g *TeamHistory) RankingsForTeam(ctx context.Context, teamID uint32, mode int8) ([]TeamRankingEntry, error) {
	rankings, err := g.store.AvailableRankings(ctx, g.seasonFilter)
	if err != nil {
		return nil, err
	}

	res := make([]TeamRankingEntry, 0, len(rankings))
	for _, ranking := range rankings {
		found, err := FindTeamRank(ctx, g.store, ranking, teamID)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}

		teamRank := &found[0]
		if ranking.SeasonID >= MMRSeason && teamRank.MMR == NoMMR {
			continue
		}

		entry := TeamRankingEntry{
			League:      teamRank.League,
			Tier:        teamRank.Tier,
			Version:     teamRank.Version,
			DataTime:    ranking.DataTime,
			SeasonID:    ranking.SeasonID,
			Race0:       teamRank.Race0,
			BestRace:    ranking.SeasonID < SeparateRaceMMRSeason || mode != Team1v1 || teamRank.Race3 == RaceBest,
			Points:      teamRank.Points,
			Wins:        teamRank.Wins,
			Losses:      teamRank.Losses,
			WorldRank:   teamRank.WorldRank,
			WorldCount:  teamRank.WorldCount,
			RegionRank:  teamRank.RegionRank,
			RegionCount: teamRank.RegionCount,
			LeagueRank:  teamRank.LeagueRank,
			LeagueCount: teamRank.LeagueCount,
			LadderRank:  teamRank.LadderRank,
			LadderCount: teamRank.LadderCount,
			ID:          ranking.ID,
		}
		if teamRank.MMR != NoMMR {
			mmr := teamRank.MMR
			entry.MMR = &mmr
		}
		res = append(res, entry)
	}
	return res, nil
}

// ModeStats is the per mode slice of one ranking's stats summary.
type ModeStats struct {
	StatVersion   uint32             `json:"stat_version"`
	ID            uint32             `json:"id"`
	ModeID        int8               `json:"mode_id"`
	DataTime      float64            `json:"data_time"`
	SeasonID      uint32             `json:"season_id"`
	SeasonVersion int8               `json:"season_version"`
	Data          []RankingStatsData `json:"data"`
}

// RankingStatsForMode extracts the stats series of one mode across all rankings.
func (g *TeamHistory) RankingStatsForMode(ctx context.Context, modeID int8) ([]ModeStats, error) {
	list, err := g.store.LoadAllRankingStats(ctx, g.seasonFilter)
	if err != nil {
		return nil, err
	}

	// Tuples per mode in the version 1 layout.
	dataCount := len(RankingVersionIDs) * len(RankingRegionIDs) * len(RankingLeagueIDs) * len(StatsRaceIDs)

	res := make([]ModeStats, 0, len(list))
	for i := range list {
		stats := &list[i]

		modeIndex := -1
		for mi, mode := range RankingModeIDs {
			if mode == modeID {
				modeIndex = mi
				break
			}
		}
		if modeIndex == -1 {
			continue
		}

		lo := dataCount * modeIndex
		hi := lo + dataCount
		if hi > len(stats.Datas) {
			hi = len(stats.Datas)
		}
		if lo >= hi {
			continue
		}

		res = append(res, ModeStats{
			StatVersion:   stats.Version,
			ID:            stats.RankingID,
			ModeID:        modeID,
			DataTime:      stats.DataTime,
			SeasonID:      stats.SeasonID,
			SeasonVersion: stats.SeasonVersion,
			Data:          stats.Datas[lo:hi],
		})
	}
	return res, nil
}
