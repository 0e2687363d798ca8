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

// Game enum values as published by the upstream API. These are stable ids, never
// reordered.

const (
	VersionWoL  int8 = 0
	VersionHotS int8 = 1
	VersionLotV int8 = 2
)

const (
	Team1v1       int8 = 11
	TeamArchon    int8 = 12
	Team2v2       int8 = 21
	RandomTeam2v2 int8 = 22
	Team3v3       int8 = 31
	RandomTeam3v3 int8 = 32
	Team4v4       int8 = 41
	RandomTeam4v4 int8 = 42
)

const (
	RegionEU  int8 = 0
	RegionAM  int8 = 1
	RegionKR  int8 = 2
	RegionSEA int8 = 3
	RegionCN  int8 = 4
)

const (
	LeagueBronze      int8 = 0
	LeagueSilver      int8 = 1
	LeagueGold        int8 = 2
	LeaguePlatinum    int8 = 3
	LeagueDiamond     int8 = 4
	LeagueMaster      int8 = 5
	LeagueGrandmaster int8 = 6
)

const (
	RaceUnknown int8 = -1
	RaceZerg    int8 = 0
	RaceProtoss int8 = 1
	RaceTerran  int8 = 2
	RaceRandom  int8 = 3

	// RaceAny and RaceBest are coded into race3 on 1v1 team rank records, see TeamRank.
	RaceAny  int8 = 8
	RaceBest int8 = 9

	RaceLo    int8 = RaceZerg
	RaceHi    int8 = RaceRandom
	RaceCount      = 4
)

const (
	// NoMMR marks a team rank as unrated, it sorts below every real rating.
	NoMMR int16 = -32768

	// MMRSeason is the first season where the upstream API provides MMR, rankings from
	// this season on sort on MMR instead of league/tier/points.
	MMRSeason uint32 = 28

	// SeparateRaceMMRSeason is the first season where a 1v1 team has one rating per
	// race played, so one team can occur with several race0 values in a ranking.
	SeparateRaceMMRSeason uint32 = 29
)

// Canonical iteration orders used for rank computation and stats summation. The rank
// and stats code requires these to be sorted ascending as ints.
var (
	RankingVersionIDs = []int8{VersionWoL, VersionHotS, VersionLotV}
	RankingModeIDs    = []int8{Team1v1, TeamArchon, Team2v2, RandomTeam2v2, Team3v3, RandomTeam3v3, Team4v4, RandomTeam4v4}
	RankingRegionIDs  = []int8{RegionEU, RegionAM, RegionKR, RegionSEA, RegionCN}
	RankingLeagueIDs  = []int8{LeagueBronze, LeagueSilver, LeagueGold, LeaguePlatinum, LeagueDiamond, LeagueMaster, LeagueGrandmaster}

	// Stats race axis includes unknown for team modes where race0 can be unset.
	StatsRaceIDs = []int8{RaceUnknown, RaceZerg, RaceProtoss, RaceTerran, RaceRandom}
)

// SortKeyForSeason returns the strict ranking sort key in use for a season.
func SortKeyForSeason(seasonID uint32) int8 {
	if seasonID >= MMRSeason {
		return SortKeyMMR
	}
	return SortKeyLadderRank
}
