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
	"time"
)

// memoryRankingStore keeps encoded blobs in memory with the same substring window
// semantics as the sql store, so codec and binary search behave exactly as against the
// database.
type memoryRankingStore struct {
	blobs       map[uint32][]byte
	stats       map[uint32]string
	rankings    map[uint32]Ranking
	windowReads int
}

var _ RankingStore = &memoryRankingStore{}

func newMemoryRankingStore() *memoryRankingStore {
	return &memoryRankingStore{
		blobs:    make(map[uint32][]byte),
		stats:    make(map[uint32]string),
		rankings: make(map[uint32]Ranking),
	}
}

func (s *memoryRankingStore) addRanking(r Ranking) {
	s.rankings[r.ID] = r
}

func (s *memoryRankingStore) LoadTeamRanksHeader(_ context.Context, rankingID uint32) (TeamRanksHeader, error) {
	blob, ok := s.blobs[rankingID]
	if !ok {
		return TeamRanksHeader{}, fmt.Errorf("no ranking_data with ranking_id %d", rankingID)
	}
	return DecodeTeamRanksHeader(blob)
}

func (s *memoryRankingStore) LoadTeamRankWindow(_ context.Context, rankingID uint32, dataVersion uint32, index uint32, windowSize uint32) ([]TeamRank, error) {
	s.windowReads++

	blob, ok := s.blobs[rankingID]
	if !ok {
		return nil, fmt.Errorf("no ranking_data with ranking_id %d", rankingID)
	}
	trSize, err := TeamRankSize(dataVersion)
	if err != nil {
		return nil, err
	}

	start := TeamRanksHeaderSize + trSize*int(index)
	end := start + trSize*int(windowSize)
	if start > len(blob) {
		start = len(blob)
	}
	if end > len(blob) {
		end = len(blob)
	}
	data := blob[start:end]

	trs := make([]TeamRank, 0, windowSize)
	for i := 0; (i+1)*trSize <= len(data); i++ {
		var tr TeamRank
		if err := DecodeTeamRank(data[i*trSize:], dataVersion, &tr); err != nil {
			return nil, err
		}
		trs = append(trs, tr)
	}
	return trs, nil
}

func (s *memoryRankingStore) LoadTeamRanks(_ context.Context, rankingID uint32, minDataTime float64) ([]TeamRank, error) {
	blob, ok := s.blobs[rankingID]
	if !ok {
		return nil, fmt.Errorf("no ranking_data with ranking_id %d", rankingID)
	}
	trs, _, err := DecodeTeamRanks(blob, minDataTime)
	return trs, err
}

func (s *memoryRankingStore) SaveTeamRanks(_ context.Context, rankingID uint32, now float64, teamRanks []TeamRank) error {
	data := EncodeTeamRanks(teamRanks)
	if len(data) >= 1<<31 {
		return ErrBlobTooLarge
	}
	s.blobs[rankingID] = data
	if r, ok := s.rankings[rankingID]; ok && now >= 1 {
		r.Updated = now
		s.rankings[rankingID] = r
	}
	return nil
}

func (s *memoryRankingStore) AvailableRankings(_ context.Context, fromSeason uint32) ([]Ranking, error) {
	var rankings []Ranking
	for _, r := range s.rankings {
		if r.SeasonID >= fromSeason {
			rankings = append(rankings, r)
		}
	}
	sort.Slice(rankings, func(i, j int) bool { return rankings[i].DataTime < rankings[j].DataTime })
	return rankings, nil
}

func (s *memoryRankingStore) LatestRanking(_ context.Context) (Ranking, error) {
	var latest Ranking
	found := false
	for _, r := range s.rankings {
		if !found || r.DataTime > latest.DataTime {
			latest = r
			found = true
		}
	}
	if !found {
		return latest, ErrNoRanking
	}
	return latest, nil
}

func (s *memoryRankingStore) SaveRankingStats(_ context.Context, rankingID uint32, _ float64, stats *RankingStats) error {
	s.stats[rankingID] = EncodeRankingStats(stats)
	return nil
}

func (s *memoryRankingStore) LoadRankingStats(_ context.Context, rankingID uint32) (RankingStats, error) {
	data, ok := s.stats[rankingID]
	if !ok {
		return RankingStats{}, fmt.Errorf("no ranking_stats with ranking_id %d", rankingID)
	}
	stats, err := DecodeRankingStats(data)
	if err != nil {
		return stats, err
	}
	stats.RankingID = rankingID
	if r, ok := s.rankings[rankingID]; ok {
		stats.DataTime = r.DataTime
		stats.SeasonID = r.SeasonID
		stats.SeasonVersion = r.Version
	}
	return stats, nil
}

func (s *memoryRankingStore) LoadAllRankingStats(ctx context.Context, fromSeason uint32) ([]RankingStats, error) {
	rankings, err := s.AvailableRankings(ctx, fromSeason+1)
	if err != nil {
		return nil, err
	}
	var list []RankingStats
	for _, r := range rankings {
		if _, ok := s.stats[r.ID]; !ok {
			continue
		}
		stats, err := s.LoadRankingStats(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		list = append(list, stats)
	}
	return list, nil
}

func (s *memoryRankingStore) SeenTeamIDs(_ context.Context, _ time.Time) (map[uint32]struct{}, error) {
	return map[uint32]struct{}{}, nil
}

// memoryIdentityStore resolves identities against in-memory tables with sequential
// ids, consuming unknowns the same way the sql store does.
type memoryIdentityStore struct {
	nextPlayerID uint32
	nextTeamID   uint32
	players      map[PlayerKey]Player
	teams        map[TeamKey]Team

	playerUpdates int
	teamUpdates   int
}

var _ IdentityStore = &memoryIdentityStore{}

func newMemoryIdentityStore() *memoryIdentityStore {
	return &memoryIdentityStore{
		players: make(map[PlayerKey]Player),
		teams:   make(map[TeamKey]Team),
	}
}

func (s *memoryIdentityStore) GetOrInsertPlayers(_ context.Context, cache map[PlayerKey]Player, unknown map[PlayerKey]Player) (int, error) {
	count := 0
	for key, p := range unknown {
		stored, ok := s.players[key]
		if !ok {
			s.nextPlayerID++
			p.ID = s.nextPlayerID
			s.players[key] = p
			stored = p
			count++
		}
		cache[key] = stored
		delete(unknown, key)
	}
	return count, nil
}

func (s *memoryIdentityStore) GetOrInsertTeams(_ context.Context, cache map[TeamKey]Team, unknown map[TeamKey]Team, _ int) (int, error) {
	count := 0
	for key, t := range unknown {
		stored, ok := s.teams[key]
		if !ok {
			s.nextTeamID++
			t.ID = s.nextTeamID
			s.teams[key] = t
			stored = t
			count++
		}
		cache[key] = stored
		delete(unknown, key)
	}
	return count, nil
}

func (s *memoryIdentityStore) UpdatePlayers(_ context.Context, players []Player) error {
	for _, p := range players {
		s.players[p.Key()] = p
		s.playerUpdates++
	}
	return nil
}

func (s *memoryIdentityStore) UpdateTeams(_ context.Context, teams []Team) error {
	for _, t := range teams {
		s.teams[t.Key()] = t
		s.teamUpdates++
	}
	return nil
}
