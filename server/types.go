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
	"fmt"
	"sort"
	"time"
)

// TeamRanksHeader prefixes every persisted ranking blob.
type TeamRanksHeader struct {
	MagicNumber uint32 // Should be TeamRankMagicNumber or the byte order is wrong.
	Version     uint32 // Version of the record data that follows.
	Count       uint32 // Number of records in the blob.
}

// NewTeamRanksHeader returns a header for the current data version.
func NewTeamRanksHeader(count uint32) TeamRanksHeader {
	return TeamRanksHeader{MagicNumber: TeamRankMagicNumber, Version: TeamRankVersion2, Count: count}
}

// TeamRank is one ranking in time of one team. For 1v1 in separate race mmr seasons a
// team can have one record per race0, race3 then carries RaceBest on the record that
// represents the team's best race and RaceAny on the others. For other modes race0..3
// are the member races.
type TeamRank struct {
	TeamID uint32

	// The timestamp of the ladder data for presenting data points on site. Ideally
	// this is the last time the ladder was updated. For already closed ladders it is
	// the season end date, for current season ladders the cache update time.
	DataTime float64

	Version int8
	Region  int8
	Mode    int8
	League  int8
	Tier    int8

	LadderID uint32
	JoinTime float32
	SourceID uint32 // Cache id where this ranking origins.

	MMR    int16
	Points float32
	Wins   uint32
	Losses uint32

	Race0 int8
	Race1 int8
	Race2 int8
	Race3 int8

	LadderRank  uint32
	LadderCount uint32
	LeagueRank  uint32
	LeagueCount uint32
	RegionRank  uint32
	RegionCount uint32
	WorldRank   uint32
	WorldCount  uint32
}

func (tr *TeamRank) String() string {
	return fmt.Sprintf("<team_rank team_id: %d data_time: %g version: %d region: %d mode: %d league: %d tier: %d"+
		" ladder_id: %d join_time: %g source_id: %d mmr: %d points: %g wins: %d losses: %d"+
		" race0: %d race1: %d race2: %d race3: %d"+
		" ladder_rank: %d ladder_count: %d league_rank: %d league_count: %d"+
		" region_rank: %d region_count: %d world_rank: %d world_count: %d>",
		tr.TeamID, tr.DataTime, tr.Version, tr.Region, tr.Mode, tr.League, tr.Tier,
		tr.LadderID, tr.JoinTime, tr.SourceID, tr.MMR, tr.Points, tr.Wins, tr.Losses,
		tr.Race0, tr.Race1, tr.Race2, tr.Race3,
		tr.LadderRank, tr.LadderCount, tr.LeagueRank, tr.LeagueCount,
		tr.RegionRank, tr.RegionCount, tr.WorldRank, tr.WorldCount)
}

// PlayerKey identifies a player uniquely across seasons.
type PlayerKey struct {
	Region int8
	Bid    uint32
	Realm  int8
}

// Player is the persistent identity of one character, created on first sighting and
// mutated by the merger update rules, never deleted.
type Player struct {
	ID       uint32
	Region   int8
	Bid      uint32
	Realm    int8
	Name     string
	Tag      string
	Clan     string
	SeasonID uint32
	Race     int8
	League   int8
	Mode     int8
	LastSeen time.Time
}

func (p *Player) Key() PlayerKey {
	return PlayerKey{Region: p.Region, Bid: p.Bid, Realm: p.Realm}
}

func (p *Player) String() string {
	return fmt.Sprintf("<player id: %d bid: %d region: %d realm: %d name: %s tag: %s clan: %s"+
		" season_id: %d race: %d league: %d mode: %d>",
		p.ID, p.Bid, p.Region, p.Realm, p.Name, p.Tag, p.Clan, p.SeasonID, p.Race, p.League, p.Mode)
}

// TeamKey identifies a team uniquely, member ids are in normalized order and positions
// beyond the team size are zero.
type TeamKey struct {
	Mode int8
	M0   uint32
	M1   uint32
	M2   uint32
	M3   uint32
}

// Team is the persistent identity of one member composition within a mode.
type Team struct {
	ID       uint32
	Region   int8
	Mode     int8
	SeasonID uint32
	Version  int8
	League   int8
	M0       uint32
	M1       uint32
	M2       uint32
	M3       uint32
	R0       int8
	R1       int8
	R2       int8
	R3       int8
	LastSeen time.Time
}

func (t *Team) Key() TeamKey {
	return TeamKey{Mode: t.Mode, M0: t.M0, M1: t.M1, M2: t.M2, M3: t.M3}
}

// Normalize sorts members (and their races) to have the one with the lowest player id
// first, so member order is canonical before lookup or insert. Positions beyond
// teamSize become zero.
func (t *Team) Normalize(teamSize int) {
	if teamSize == 1 {
		t.M1, t.M2, t.M3 = 0, 0, 0
		t.R1, t.R2, t.R3 = RaceUnknown, RaceUnknown, RaceUnknown
		return
	}

	type memberRace struct {
		id   uint32
		race int8
	}
	l := make([]memberRace, 0, 4)
	l = append(l, memberRace{t.M0, t.R0})
	l = append(l, memberRace{t.M1, t.R1})
	if teamSize > 2 {
		l = append(l, memberRace{t.M2, t.R2})
	}
	if teamSize > 3 {
		l = append(l, memberRace{t.M3, t.R3})
	}

	sort.SliceStable(l, func(i, j int) bool { return l[i].id < l[j].id })
	l = append(l, memberRace{0, RaceUnknown}, memberRace{0, RaceUnknown})

	t.M0, t.R0 = l[0].id, l[0].race
	t.M1, t.R1 = l[1].id, l[1].race
	t.M2, t.R2 = l[2].id, l[2].race
	t.M3, t.R3 = l[3].id, l[3].race
}

func (t *Team) String() string {
	return fmt.Sprintf("<team id: %d region: %d mode: %d season_id: %d version: %d league: %d"+
		" m0: %d m1: %d m2: %d m3: %d r0: %d r1: %d r2: %d r3: %d>",
		t.ID, t.Region, t.Mode, t.SeasonID, t.Version, t.League,
		t.M0, t.M1, t.M2, t.M3, t.R0, t.R1, t.R2, t.R3)
}

// Ranking is the metadata of one published ranking. Version is the game version of the
// ranking's season, it bounds how many versions a team can have records for.
type Ranking struct {
	ID       uint32
	SeasonID uint32
	Version  int8
	DataTime float64
	Updated  float64
}

// RankingStatsData is one aggregate tuple of the stats summary.
type RankingStatsData struct {
	Count  uint64
	Wins   uint64
	Losses uint64
	Points float64
}

// RankingStats is a per ranking aggregate, one RankingStatsData for each
// (mode, version, region, league, race) tuple in canonical order.
type RankingStats struct {
	Version       uint32
	RankingID     uint32  // Not saved in db data.
	DataTime      float64 // Not saved in db data.
	SeasonID      uint32  // Not saved in db data.
	SeasonVersion int8    // Not saved in db data.
	Datas         []RankingStatsData
}

// RankingStatsVersion1 is a series of sums indexed by
// mode (8) -> version (3) -> region (5) -> league (7) -> race (5, including unknown)
// with four numbers (count, wins, losses, points) per tuple.
const RankingStatsVersion1 uint32 = 1
