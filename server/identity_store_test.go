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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPlayer(bid uint32, race int8) Player {
	return Player{
		Region:   RegionAM,
		Bid:      bid,
		Realm:    1,
		Name:     "name",
		Tag:      "tag",
		Clan:     "clan",
		SeasonID: 29,
		Mode:     Team1v1,
		League:   LeagueGold,
		Race:     race,
		LastSeen: time.Unix(int64(testDataTime), 0).UTC(),
	}
}

func TestSQLIdentityStoreGetOrInsertPlayers(t *testing.T) {
	db := NewDB(t)
	setupRankingSchema(t, db)
	store := NewSQLIdentityStore(zap.NewNop(), db)

	p1 := testPlayer(100, RaceZerg)
	p2 := testPlayer(101, RaceTerran)

	cache := map[PlayerKey]Player{}
	unknown := map[PlayerKey]Player{p1.Key(): p1, p2.Key(): p2}
	inserted, err := store.GetOrInsertPlayers(context.Background(), cache, unknown)
	require.NoError(t, err)

	assert.Equal(t, 2, inserted)
	assert.Empty(t, unknown)
	require.Len(t, cache, 2)
	assert.NotZero(t, cache[p1.Key()].ID)
	assert.NotZero(t, cache[p2.Key()].ID)
	assert.NotEqual(t, cache[p1.Key()].ID, cache[p2.Key()].ID)
	assert.Equal(t, "name", cache[p1.Key()].Name)

	// A second resolve from a cold cache finds the stored row instead of inserting.
	p3 := testPlayer(102, RaceProtoss)
	coldCache := map[PlayerKey]Player{}
	unknown = map[PlayerKey]Player{p1.Key(): p1, p3.Key(): p3}
	inserted, err = store.GetOrInsertPlayers(context.Background(), coldCache, unknown)
	require.NoError(t, err)

	assert.Equal(t, 1, inserted)
	assert.Empty(t, unknown)
	assert.Equal(t, cache[p1.Key()].ID, coldCache[p1.Key()].ID)
	assert.NotZero(t, coldCache[p3.Key()].ID)
}

func TestSQLIdentityStoreUpdatePlayers(t *testing.T) {
	db := NewDB(t)
	setupRankingSchema(t, db)
	store := NewSQLIdentityStore(zap.NewNop(), db)

	p := testPlayer(100, RaceZerg)
	cache := map[PlayerKey]Player{}
	_, err := store.GetOrInsertPlayers(context.Background(), cache, map[PlayerKey]Player{p.Key(): p})
	require.NoError(t, err)

	updated := cache[p.Key()]
	updated.Name = "renamed"
	updated.League = LeagueMaster
	updated.Race = RaceProtoss
	require.NoError(t, store.UpdatePlayers(context.Background(), []Player{updated}))

	coldCache := map[PlayerKey]Player{}
	_, err = store.GetOrInsertPlayers(context.Background(), coldCache, map[PlayerKey]Player{p.Key(): p})
	require.NoError(t, err)

	stored := coldCache[p.Key()]
	assert.Equal(t, updated.ID, stored.ID)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, LeagueMaster, stored.League)
	assert.Equal(t, RaceProtoss, stored.Race)
}

func TestSQLIdentityStoreGetOrInsertTeams(t *testing.T) {
	db := NewDB(t)
	setupRankingSchema(t, db)
	store := NewSQLIdentityStore(zap.NewNop(), db)

	p1 := testPlayer(100, RaceZerg)
	p2 := testPlayer(101, RaceTerran)
	playerCache := map[PlayerKey]Player{}
	_, err := store.GetOrInsertPlayers(context.Background(), playerCache,
		map[PlayerKey]Player{p1.Key(): p1, p2.Key(): p2})
	require.NoError(t, err)

	team := Team{
		Region:   RegionAM,
		Mode:     Team2v2,
		SeasonID: 29,
		Version:  VersionLotV,
		League:   LeagueGold,
		M0:       playerCache[p1.Key()].ID,
		M1:       playerCache[p2.Key()].ID,
		R0:       RaceZerg,
		R1:       RaceTerran,
		R2:       RaceUnknown,
		R3:       RaceUnknown,
		LastSeen: time.Unix(int64(testDataTime), 0).UTC(),
	}
	team.Normalize(2)

	cache := map[TeamKey]Team{}
	inserted, err := store.GetOrInsertTeams(context.Background(), cache,
		map[TeamKey]Team{team.Key(): team}, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, inserted)
	require.Len(t, cache, 1)
	teamID := cache[team.Key()].ID
	assert.NotZero(t, teamID)
	// Positions beyond the team size round-trip as the zero sentinel.
	assert.Zero(t, cache[team.Key()].M2)
	assert.Zero(t, cache[team.Key()].M3)

	// The same composition resolves to the same id from a cold cache.
	coldCache := map[TeamKey]Team{}
	inserted, err = store.GetOrInsertTeams(context.Background(), coldCache,
		map[TeamKey]Team{team.Key(): team}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, teamID, coldCache[team.Key()].ID)

	// One of the players alone is a different 1v1 team, not a key collision with the
	// 2v2 row.
	solo := team
	solo.Mode = Team1v1
	solo.M1, solo.R1 = 0, RaceUnknown
	soloCache := map[TeamKey]Team{}
	inserted, err = store.GetOrInsertTeams(context.Background(), soloCache,
		map[TeamKey]Team{solo.Key(): solo}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NotEqual(t, teamID, soloCache[solo.Key()].ID)
}

func TestSQLIdentityStoreUpdateTeams(t *testing.T) {
	db := NewDB(t)
	setupRankingSchema(t, db)
	store := NewSQLIdentityStore(zap.NewNop(), db)

	p := testPlayer(100, RaceZerg)
	playerCache := map[PlayerKey]Player{}
	_, err := store.GetOrInsertPlayers(context.Background(), playerCache, map[PlayerKey]Player{p.Key(): p})
	require.NoError(t, err)

	team := Team{
		Region:   RegionAM,
		Mode:     Team1v1,
		SeasonID: 29,
		Version:  VersionLotV,
		League:   LeagueGold,
		M0:       playerCache[p.Key()].ID,
		R0:       RaceZerg,
		R1:       RaceUnknown,
		R2:       RaceUnknown,
		R3:       RaceUnknown,
		LastSeen: time.Unix(int64(testDataTime), 0).UTC(),
	}
	cache := map[TeamKey]Team{}
	_, err = store.GetOrInsertTeams(context.Background(), cache, map[TeamKey]Team{team.Key(): team}, 1)
	require.NoError(t, err)

	updated := cache[team.Key()]
	updated.League = LeagueMaster
	updated.R0 = RaceProtoss
	require.NoError(t, store.UpdateTeams(context.Background(), []Team{updated}))

	coldCache := map[TeamKey]Team{}
	_, err = store.GetOrInsertTeams(context.Background(), coldCache, map[TeamKey]Team{team.Key(): team}, 1)
	require.NoError(t, err)

	stored := coldCache[team.Key()]
	assert.Equal(t, updated.ID, stored.ID)
	assert.Equal(t, LeagueMaster, stored.League)
	assert.Equal(t, RaceProtoss, stored.R0)
}
