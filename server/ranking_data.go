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
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LadderMember is one row of a ladder snapshot from the upstream API. Members come in
// team major order, TeamSize consecutive members form a team, and the team's rating
// numbers are carried on its last member.
type LadderMember struct {
	Bid      uint32
	Realm    int8
	Name     string
	Tag      string
	Clan     string
	Race     int8
	MMR      int16
	Points   float32
	Wins     uint32
	Losses   uint32
	JoinTime float32
}

// Ladder is one published list of teams for one (region, mode, league, tier, version)
// at a moment in time.
type Ladder struct {
	LadderID uint32
	SourceID uint32
	Region   int8
	Mode     int8
	League   int8
	Tier     int8
	Version  int8
	SeasonID uint32
	DataTime float64
	TeamSize int
	Members  []LadderMember
}

// LadderUpdateStats reports what one ladder merge did.
type LadderUpdateStats struct {
	UpdatedPlayerCount  int
	InsertedPlayerCount int
	UpdatedTeamCount    int
	InsertedTeamCount   int
	PlayerCacheSize     int
	TeamCacheSize       int
}

// RankingData owns the live in-memory ranking during an update run. The mutex is held
// across identity resolution, merge and cache updates so database transactions never
// interleave with in-memory mutation. The identity caches are owned exclusively by
// this type.
type RankingData struct {
	sync.Mutex

	logger   *zap.Logger
	identity IdentityStore
	store    RankingStore

	teamRanks   []TeamRank
	playerCache map[PlayerKey]Player
	teamCache   map[TeamKey]Team
}

func NewRankingData(logger *zap.Logger, identity IdentityStore, store RankingStore) *RankingData {
	return &RankingData{
		logger:      logger,
		identity:    identity,
		store:       store,
		playerCache: make(map[PlayerKey]Player),
		teamCache:   make(map[TeamKey]Team),
	}
}

// Load replaces the live ranking with the stored one.
func (rd *RankingData) Load(ctx context.Context, rankingID uint32) error {
	rd.Lock()
	defer rd.Unlock()

	teamRanks, err := rd.store.LoadTeamRanks(ctx, rankingID, 0)
	if err != nil {
		return err
	}
	rd.teamRanks = teamRanks
	return nil
}

// ClearTeamRanks drops the live ranking, identity caches are kept.
func (rd *RankingData) ClearTeamRanks() {
	rd.Lock()
	defer rd.Unlock()
	rd.teamRanks = nil
}

// TeamRanks returns a copy of the live ranking in its current order.
func (rd *RankingData) TeamRanks() []TeamRank {
	rd.Lock()
	defer rd.Unlock()
	teamRanks := make([]TeamRank, len(rd.teamRanks))
	copy(teamRanks, rd.teamRanks)
	return teamRanks
}

// MinMaxDataTime returns the data time range of the live ranking, zeros when empty.
func (rd *RankingData) MinMaxDataTime() (float64, float64) {
	rd.Lock()
	defer rd.Unlock()

	if len(rd.teamRanks) == 0 {
		return 0, 0
	}
	minDataTime, maxDataTime := rd.teamRanks[0].DataTime, rd.teamRanks[0].DataTime
	for i := range rd.teamRanks {
		if rd.teamRanks[i].DataTime < minDataTime {
			minDataTime = rd.teamRanks[i].DataTime
		}
		if rd.teamRanks[i].DataTime > maxDataTime {
			maxDataTime = rd.teamRanks[i].DataTime
		}
	}
	return minDataTime, maxDataTime
}

// UpdateWithLadder folds one ladder snapshot into the live ranking. Player and team
// identities are resolved against the store, the snapshot is sort-merged into the live
// vector in identity order, and changed players and teams are written back.
func (rd *RankingData) UpdateWithLadder(ctx context.Context, ladder *Ladder) (LadderUpdateStats, error) {
	var stats LadderUpdateStats

	if ladder.TeamSize < 1 || ladder.TeamSize > 4 {
		return stats, fmt.Errorf("%w: team size %d", ErrBug, ladder.TeamSize)
	}
	if len(ladder.Members)%ladder.TeamSize != 0 {
		return stats, fmt.Errorf("%w: %d members is not a whole number of teams of %d",
			ErrBug, len(ladder.Members), ladder.TeamSize)
	}

	rd.Lock()
	defer rd.Unlock()

	lastSeen := time.Unix(int64(ladder.DataTime), 0).UTC()

	// This comparator orders the ladder for ladder ranks and decides whether a new race
	// record of a 1v1 team is better than the team's existing race records.
	cmp := NewCmpTR(false, NotSet, NotSet, NotSet, SortKeyForSeason(ladder.SeasonID), true)

	// Get or create player ids.

	players := make([]Player, 0, len(ladder.Members))
	unknownPlayers := make(map[PlayerKey]Player)
	for _, member := range ladder.Members {
		p := Player{
			Region:   ladder.Region,
			Bid:      member.Bid,
			Realm:    member.Realm,
			Name:     member.Name,
			Tag:      member.Tag,
			Clan:     member.Clan,
			SeasonID: ladder.SeasonID,
			Mode:     ladder.Mode,
			League:   ladder.League,
			Race:     member.Race,
			LastSeen: lastSeen,
		}
		if cached, ok := rd.playerCache[p.Key()]; ok {
			p.ID = cached.ID
		} else if _, pending := unknownPlayers[p.Key()]; !pending {
			unknownPlayers[p.Key()] = p
		}
		players = append(players, p)
	}

	if len(unknownPlayers) > 0 {
		inserted, err := rd.identity.GetOrInsertPlayers(ctx, rd.playerCache, unknownPlayers)
		if err != nil {
			return stats, err
		}
		stats.InsertedPlayerCount = inserted

		for i := range players {
			if players[i].ID == 0 {
				cached, ok := rd.playerCache[players[i].Key()]
				if !ok {
					return stats, fmt.Errorf("%w: player %s missing from cache after resolve", ErrBug, players[i].String())
				}
				players[i].ID = cached.ID
			}
		}
	}

	// Get or create team ids.

	teams := make([]Team, 0, len(ladder.Members)/ladder.TeamSize)
	unknownTeams := make(map[TeamKey]Team)
	for i := range players {
		if i%ladder.TeamSize != ladder.TeamSize-1 {
			continue
		}
		// Last member in the team, handle team.
		team := Team{
			Region:   ladder.Region,
			Mode:     ladder.Mode,
			SeasonID: ladder.SeasonID,
			Version:  ladder.Version,
			League:   ladder.League,
			R0:       RaceUnknown,
			R1:       RaceUnknown,
			R2:       RaceUnknown,
			R3:       RaceUnknown,
			LastSeen: lastSeen,
		}
		memberIDs := [4]uint32{}
		memberRaces := [4]int8{RaceUnknown, RaceUnknown, RaceUnknown, RaceUnknown}
		for j := 0; j < ladder.TeamSize; j++ {
			memberIDs[j] = players[i-ladder.TeamSize+1+j].ID
			memberRaces[j] = players[i-ladder.TeamSize+1+j].Race
		}
		team.M0, team.M1, team.M2, team.M3 = memberIDs[0], memberIDs[1], memberIDs[2], memberIDs[3]
		team.R0, team.R1, team.R2, team.R3 = memberRaces[0], memberRaces[1], memberRaces[2], memberRaces[3]
		team.Normalize(ladder.TeamSize)

		if cached, ok := rd.teamCache[team.Key()]; ok {
			team.ID = cached.ID
		} else if _, pending := unknownTeams[team.Key()]; !pending {
			unknownTeams[team.Key()] = team
		}
		teams = append(teams, team)
	}

	if len(unknownTeams) > 0 {
		inserted, err := rd.identity.GetOrInsertTeams(ctx, rd.teamCache, unknownTeams, ladder.TeamSize)
		if err != nil {
			return stats, err
		}
		stats.InsertedTeamCount = inserted

		for i := range teams {
			if teams[i].ID == 0 {
				cached, ok := rd.teamCache[teams[i].Key()]
				if !ok {
					return stats, fmt.Errorf("%w: team %s missing from cache after resolve", ErrBug, teams[i].String())
				}
				teams[i].ID = cached.ID
			}
		}
	}

	// Extract the ladder team ranks from the members, skipping duplicate teams. With
	// separate race mmr the first occurrence is the higher ranked race record.

	teamByID := make(map[uint32]Team, len(teams))
	playerByID := make(map[uint32]Player, len(players))
	ranks := make([]TeamRank, 0, len(teams))

	for i := range players {
		playerByID[players[i].ID] = players[i]

		if i%ladder.TeamSize != ladder.TeamSize-1 {
			continue
		}
		member := &ladder.Members[i]
		team := teams[i/ladder.TeamSize]

		if _, dup := teamByID[team.ID]; dup {
			continue
		}
		teamByID[team.ID] = team

		ranks = append(ranks, TeamRank{
			TeamID:   team.ID,
			DataTime: ladder.DataTime,
			Version:  ladder.Version,
			Region:   ladder.Region,
			Mode:     ladder.Mode,
			League:   ladder.League,
			Tier:     ladder.Tier,
			LadderID: ladder.LadderID,
			JoinTime: member.JoinTime,
			SourceID: ladder.SourceID,
			MMR:      member.MMR,
			Points:   member.Points,
			Wins:     member.Wins,
			Losses:   member.Losses,
			Race0:    team.R0,
			Race1:    team.R1,
			Race2:    team.R2,
			Race3:    team.R3,
		})
	}

	// Sort the ladder and assign ladder ranks, ties share a rank and the next
	// distinct key jumps to its position.

	sort.SliceStable(ranks, func(i, j int) bool { return cmp.Less(&ranks[i], &ranks[j]) })
	var last *TeamRank
	rank := uint32(1)
	for i := range ranks {
		tr := &ranks[i]
		if last == nil || !cmp.Equal(last, tr) {
			rank = uint32(i) + 1
			last = tr
		}
		tr.LadderRank = rank
		tr.LadderCount = uint32(len(ranks))
	}

	// Merge the ladder into the live ranking. Both sides are walked in identity
	// order. Equal identity replaces, a new (team, version) appends. A new race of an
	// already ranked 1v1 team in the separate race mmr era is appended as its own
	// record, and when it is not a better ladder position than the team's best race
	// the sighting is excluded from the cache update step by zeroing its ladder
	// entry.

	sort.SliceStable(ranks, func(i, j int) bool { return lessTeamIDVersionRace(&ranks[i], &ranks[j]) })

	live := rd.teamRanks
	var fresh []TeamRank
	t := 0
	for s := range ranks {
		src := &ranks[s]
		for t < len(live) && lessTeamIDVersion(&live[t], src) {
			t++
		}

		if t == len(live) || !sameTeamIDVersion(&live[t], src) {
			// Team has no record for this game version yet.
			fresh = append(fresh, *src)
			continue
		}

		// The run of records for this (team, version) starts at t.
		runEnd := t
		exact := -1
		for runEnd < len(live) && sameTeamIDVersion(&live[runEnd], src) {
			if live[runEnd].Race0 == src.Race0 {
				exact = runEnd
			}
			runEnd++
		}

		switch {
		case exact >= 0:
			// Same race, rely on the later data being the correct one.
			live[exact] = *src
		case ladder.Mode != Team1v1 || ladder.SeasonID < SeparateRaceMMRSeason:
			// Race composition changed, a team has a single record per version.
			live[t] = *src
		default:
			// Separate race mmr, this race becomes its own record.
			best := t
			for i := t + 1; i < runEnd; i++ {
				if cmp.Less(&live[i], &live[best]) {
					best = i
				}
			}
			fresh = append(fresh, *src)
			if !cmp.Less(src, &live[best]) {
				src.TeamID = 0
			}
		}
	}

	if len(fresh) > 0 {
		live = append(live, fresh...)
		sort.SliceStable(live, func(i, j int) bool { return lessTeamIDVersionRace(&live[i], &live[j]) })
	}
	rd.teamRanks = live

	// Handle teams and players that should be updated in the database. This also
	// brings the caches up to date.

	updatedPlayers := make(map[PlayerKey]Player)
	updatedTeams := make(map[TeamKey]Team)

	for i := range ranks {
		if ranks[i].TeamID == 0 {
			continue
		}
		team := teamByID[ranks[i].TeamID]
		cachedTeam, ok := rd.teamCache[team.Key()]
		if !ok {
			return stats, fmt.Errorf("%w: team %s not in cache during update", ErrBug, team.String())
		}
		if updateTeam(&cachedTeam, &team) {
			rd.teamCache[team.Key()] = cachedTeam
			updatedTeams[team.Key()] = cachedTeam
		}

		for _, memberID := range []uint32{team.M0, team.M1, team.M2, team.M3} {
			if memberID == 0 {
				continue
			}
			player := playerByID[memberID]
			cachedPlayer, ok := rd.playerCache[player.Key()]
			if !ok {
				return stats, fmt.Errorf("%w: player %s not in cache during update", ErrBug, player.String())
			}
			if updatePlayer(&cachedPlayer, &player) {
				rd.playerCache[player.Key()] = cachedPlayer
				updatedPlayers[player.Key()] = cachedPlayer
			}
		}
	}

	if len(updatedPlayers) > 0 {
		stats.UpdatedPlayerCount = len(updatedPlayers)
		if err := rd.identity.UpdatePlayers(ctx, sortedPlayers(updatedPlayers)); err != nil {
			return stats, err
		}
	}
	if len(updatedTeams) > 0 {
		stats.UpdatedTeamCount = len(updatedTeams)
		if err := rd.identity.UpdateTeams(ctx, sortedTeams(updatedTeams)); err != nil {
			return stats, err
		}
	}

	stats.PlayerCacheSize = len(rd.playerCache)
	stats.TeamCacheSize = len(rd.teamCache)
	return stats, nil
}

// updatePlayer folds a new sighting into the cached player, returning true if
// anything changed.
func updatePlayer(old, sighting *Player) bool {
	updated := false

	if old.SeasonID <= sighting.SeasonID &&
		(sighting.Name != old.Name || sighting.Tag != old.Tag || sighting.Clan != old.Clan) {
		// Due to a bug in the battle net api names are sometimes not available, never
		// update to an empty name.
		if len(sighting.Name) > 0 {
			old.Name = sighting.Name
			old.Tag = sighting.Tag
			old.Clan = sighting.Clan
			updated = true
		}
	}

	switch {
	case old.SeasonID < sighting.SeasonID:
		// Always update if new data is a later season.
		old.SeasonID = sighting.SeasonID
		old.Race = sighting.Race
		old.League = sighting.League
		old.Mode = sighting.Mode
		updated = true
	case sighting.SeasonID < old.SeasonID:
		// Never update from a previous season.
	case old.Mode == Team1v1 || sighting.Mode == Team1v1:
		// Handle 1v1 as a special case that is always displayed if played.
		if sighting.Mode != Team1v1 {
			// Never change from 1v1.
		} else if old.Mode != Team1v1 {
			old.Mode = sighting.Mode
			old.Race = sighting.Race
			old.League = sighting.League
			updated = true
		} else if old.League < sighting.League {
			// Only update on a better league, not on race, since a player can have
			// several races in the same league.
			old.Race = sighting.Race
			old.League = sighting.League
			updated = true
		}
	case old.League < sighting.League:
		// Display the mode with the best league.
		old.Mode = sighting.Mode
		old.Race = sighting.Race
		old.League = sighting.League
		updated = true
	case old.Mode == sighting.Mode && (old.League != sighting.League || old.Race != sighting.Race):
		// If something changed within the mode, update it. This may cause
		// consecutive updates because another mode may now have a better league, but
		// the other option is to not update league changes within the mode.
		old.Race = sighting.Race
		old.League = sighting.League
		updated = true
	}

	if updated {
		old.LastSeen = sighting.LastSeen
	}
	return updated
}

// updateTeam folds a new sighting into the cached team, returning true if anything
// changed.
func updateTeam(old, sighting *Team) bool {
	updated := false

	switch {
	case old.SeasonID < sighting.SeasonID:
		// Always update if new data is a later season.
		old.SeasonID = sighting.SeasonID
		old.Version = sighting.Version
		old.League = sighting.League
		old.R0, old.R1, old.R2, old.R3 = sighting.R0, sighting.R1, sighting.R2, sighting.R3
		updated = true
	case old.SeasonID == sighting.SeasonID && old.Version < sighting.Version:
		// Always update if later version.
		old.Version = sighting.Version
		old.League = sighting.League
		old.R0, old.R1, old.R2, old.R3 = sighting.R0, sighting.R1, sighting.R2, sighting.R3
		updated = true
	case old.SeasonID == sighting.SeasonID && old.Version == sighting.Version && sighting.Mode == Team1v1:
		// Handle 1v1 separately to avoid excessive updates from separate race mmr,
		// only update on a better league.
		if old.League < sighting.League {
			old.League = sighting.League
			old.R0 = sighting.R0
			updated = true
		}
	case old.SeasonID == sighting.SeasonID && old.Version == sighting.Version &&
		(old.League != sighting.League || old.R0 != sighting.R0 || old.R1 != sighting.R1 ||
			old.R2 != sighting.R2 || old.R3 != sighting.R3):
		// Update if something changed.
		old.League = sighting.League
		old.R0, old.R1, old.R2, old.R3 = sighting.R0, sighting.R1, sighting.R2, sighting.R3
		updated = true
	}

	if updated {
		old.LastSeen = sighting.LastSeen
	}
	return updated
}

// SaveData recomputes the derived league, region and world ranks of the live ranking
// and persists it.
func (rd *RankingData) SaveData(ctx context.Context, rankingID uint32, seasonID uint32, now float64) error {
	rd.Lock()
	defer rd.Unlock()

	sortKey := SortKeyForSeason(seasonID)

	// Sort the team ranks in global order within version and mode to be able to
	// calculate the rest of the rankings.
	global := CmpTRVersionMode{Cmp: NewCmpTR(false, NotSet, NotSet, NotSet, sortKey, true)}
	sort.SliceStable(rd.teamRanks, func(i, j int) bool { return global.Less(&rd.teamRanks[i], &rd.teamRanks[j]) })

	for _, version := range RankingVersionIDs {
		for _, mode := range RankingModeIDs {
			worldCount := uint32(0)

			for _, region := range RankingRegionIDs {
				regionCount := uint32(0)

				for _, league := range RankingLeagueIDs {
					leagueCount := uint32(0)
					for i := range rd.teamRanks {
						tr := &rd.teamRanks[i]
						if tr.Mode == mode && tr.Version == version && tr.Region == region && tr.League == league {
							leagueCount++
						}
					}

					cmp := NewCmpTR(false, region, league, NotSet, sortKey, true)
					rd.assignRanks(version, mode, &cmp, leagueCount, func(tr *TeamRank, rank, count uint32) {
						tr.LeagueRank = rank
						tr.LeagueCount = count
					})
					regionCount += leagueCount
				}

				cmp := NewCmpTR(false, region, NotSet, NotSet, sortKey, true)
				rd.assignRanks(version, mode, &cmp, regionCount, func(tr *TeamRank, rank, count uint32) {
					tr.RegionRank = rank
					tr.RegionCount = count
				})
				worldCount += regionCount
			}

			cmp := NewCmpTR(false, NotSet, NotSet, NotSet, sortKey, true)
			rd.assignRanks(version, mode, &cmp, worldCount, func(tr *TeamRank, rank, count uint32) {
				tr.WorldRank = rank
				tr.WorldCount = count
			})

			// Mark the best race record for 1v1 where different ranks per race are
			// possible. Within the group the records are in strict key order so the
			// first record of a team is its best race.
			if mode == Team1v1 {
				seen := make(map[uint32]struct{})
				for i := range rd.teamRanks {
					tr := &rd.teamRanks[i]
					if tr.Mode != mode || tr.Version != version {
						continue
					}
					if _, ok := seen[tr.TeamID]; !ok {
						tr.Race3 = RaceBest
						seen[tr.TeamID] = struct{}{}
					} else {
						tr.Race3 = RaceAny
					}
				}
			}
		}
	}

	// Store in team id order or team history won't work.
	sort.SliceStable(rd.teamRanks, func(i, j int) bool { return lessTeamIDVersionRace(&rd.teamRanks[i], &rd.teamRanks[j]) })

	return rd.store.SaveTeamRanks(ctx, rankingID, now, rd.teamRanks)
}

// assignRanks assigns dense ranks to records of the version and mode group that pass
// the comparator's filter. Records with equal keys share a rank and the next distinct
// key gets its 1-based position.
func (rd *RankingData) assignRanks(version, mode int8, cmp *CmpTR, count uint32, set func(tr *TeamRank, rank, count uint32)) {
	var last *TeamRank
	pos := uint32(1)
	rank := uint32(1)
	for i := range rd.teamRanks {
		tr := &rd.teamRanks[i]
		if tr.Mode != mode || tr.Version != version || !cmp.Use(tr) {
			continue
		}
		if last == nil || !cmp.Equal(last, tr) {
			rank = pos
			last = tr
		}
		set(tr, rank, count)
		pos++
	}
}

// SaveStats sums the live ranking into the version 1 stats layout and persists it.
func (rd *RankingData) SaveStats(ctx context.Context, rankingID uint32, now float64) error {
	rd.Lock()
	defer rd.Unlock()

	sort.SliceStable(rd.teamRanks, func(i, j int) bool { return lessRankingStatsV1(&rd.teamRanks[i], &rd.teamRanks[j]) })

	stats := RankingStats{
		Version:   RankingStatsVersion1,
		RankingID: rankingID,
		Datas: make([]RankingStatsData, 0,
			len(RankingModeIDs)*len(RankingVersionIDs)*len(RankingRegionIDs)*len(RankingLeagueIDs)*len(StatsRaceIDs)),
	}

	// The sorted team ranks are consumed in one pass, so every enum axis has to be
	// iterated in ascending int order.
	index := 0
	for _, mode := range RankingModeIDs {
		for _, version := range RankingVersionIDs {
			for _, region := range RankingRegionIDs {
				for _, league := range RankingLeagueIDs {
					for _, race := range StatsRaceIDs {
						var data RankingStatsData
						for index < len(rd.teamRanks) {
							tr := &rd.teamRanks[index]
							if tr.Mode != mode || tr.Version != version || tr.Region != region ||
								tr.League != league || tr.Race0 != race {
								break
							}
							data.Count++
							data.Wins += uint64(tr.Wins)
							data.Losses += uint64(tr.Losses)
							data.Points += float64(tr.Points)
							index++
						}
						stats.Datas = append(stats.Datas, data)
					}
				}
			}
		}
	}

	if err := rd.store.SaveRankingStats(ctx, rankingID, now, &stats); err != nil {
		return err
	}

	// Sort it back for more inserts.
	sort.SliceStable(rd.teamRanks, func(i, j int) bool { return lessTeamIDVersionRace(&rd.teamRanks[i], &rd.teamRanks[j]) })
	return nil
}
