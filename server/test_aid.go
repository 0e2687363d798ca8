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
)

// Helpers used by integration tests and tooling to seed and inspect ranking data
// without going through a full update run.

// SaveTeamRanksRaw persists records as a ranking blob, optionally sorting them into
// identity order first. Teams and players should already exist.
func SaveTeamRanksRaw(ctx context.Context, store RankingStore, rankingID uint32, now float64, teamRanks []TeamRank, sortFirst bool) error {
	if sortFirst {
		sort.SliceStable(teamRanks, func(i, j int) bool { return lessTeamIDVersionRace(&teamRanks[i], &teamRanks[j]) })
	}
	return store.SaveTeamRanks(ctx, rankingID, now, teamRanks)
}

// GetTeamRanks loads a ranking blob, optionally sorted in the served version, mode,
// world rank order.
func GetTeamRanks(ctx context.Context, store RankingStore, rankingID uint32, sorted bool) ([]TeamRank, error) {
	teamRanks, err := store.LoadTeamRanks(ctx, rankingID, 0)
	if err != nil {
		return nil, err
	}
	if sorted {
		sort.SliceStable(teamRanks, func(i, j int) bool { return lessVersionModeWorldRank(&teamRanks[i], &teamRanks[j]) })
	}
	return teamRanks, nil
}
