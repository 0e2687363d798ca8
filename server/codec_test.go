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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTeamRank() TeamRank {
	return TeamRank{
		TeamID:      1234567,
		DataTime:    1496000000.5,
		Version:     VersionLotV,
		Region:      RegionKR,
		Mode:        Team1v1,
		League:      LeagueDiamond,
		Tier:        1,
		LadderID:    192100,
		JoinTime:    1480000000,
		SourceID:    42,
		MMR:         4213,
		Points:      1021.5,
		Wins:        120,
		Losses:      80,
		Race0:       RaceZerg,
		Race1:       RaceUnknown,
		Race2:       RaceUnknown,
		Race3:       RaceBest,
		LadderRank:  3,
		LadderCount: 100,
		LeagueRank:  55,
		LeagueCount: 3000,
		RegionRank:  70,
		RegionCount: 9000,
		WorldRank:   250,
		WorldCount:  30000,
	}
}

// encodeTeamRankV1 writes the version 1 layout, only used to test upconversion.
func encodeTeamRankV1(tr *TeamRank) []byte {
	w := byteWriter{buf: make([]byte, 0, TeamRankV1Size)}
	w.u32(tr.TeamID)
	w.f64(tr.DataTime)
	w.i8(tr.Version)
	w.i8(tr.Region)
	w.i8(tr.Mode)
	w.i8(tr.League)
	w.i8(tr.Tier)
	w.u32(tr.LadderID)
	w.f32(tr.JoinTime)
	w.u32(tr.SourceID)
	w.f32(tr.Points)
	w.u32(tr.Wins)
	w.u32(tr.Losses)
	w.i8(tr.Race0)
	w.i8(tr.Race1)
	w.i8(tr.Race2)
	w.i8(tr.Race3)
	w.u32(tr.LadderRank)
	w.u32(tr.LadderCount)
	w.u32(tr.LeagueRank)
	w.u32(tr.LeagueCount)
	w.u32(tr.RegionRank)
	w.u32(tr.RegionCount)
	w.u32(tr.WorldRank)
	w.u32(tr.WorldCount)
	return w.buf
}

// encodeTeamRankV0 writes the version 0 layout, without tier and with a trailing
// active rank pair.
func encodeTeamRankV0(tr *TeamRank, activeRank, activeCount uint32) []byte {
	w := byteWriter{buf: make([]byte, 0, TeamRankV0Size)}
	w.u32(tr.TeamID)
	w.f64(tr.DataTime)
	w.i8(tr.Version)
	w.i8(tr.Region)
	w.i8(tr.Mode)
	w.i8(tr.League)
	w.u32(tr.LadderID)
	w.f32(tr.JoinTime)
	w.u32(tr.SourceID)
	w.f32(tr.Points)
	w.u32(tr.Wins)
	w.u32(tr.Losses)
	w.i8(tr.Race0)
	w.i8(tr.Race1)
	w.i8(tr.Race2)
	w.i8(tr.Race3)
	w.u32(tr.LadderRank)
	w.u32(tr.LadderCount)
	w.u32(tr.LeagueRank)
	w.u32(tr.LeagueCount)
	w.u32(tr.RegionRank)
	w.u32(tr.RegionCount)
	w.u32(tr.WorldRank)
	w.u32(tr.WorldCount)
	w.u32(activeRank)
	w.u32(activeCount)
	return w.buf
}

func TestTeamRankSizes(t *testing.T) {
	tr := sampleTeamRank()

	assert.Len(t, EncodeTeamRank(nil, &tr), TeamRankV2Size)
	assert.Len(t, encodeTeamRankV1(&tr), TeamRankV1Size)
	assert.Len(t, encodeTeamRankV0(&tr, 1, 2), TeamRankV0Size)
	assert.Len(t, EncodeTeamRanksHeader(NewTeamRanksHeader(0)), TeamRanksHeaderSize)
}

func TestTeamRankRoundTripV2(t *testing.T) {
	tr := sampleTeamRank()

	data := EncodeTeamRank(nil, &tr)
	var decoded TeamRank
	require.NoError(t, DecodeTeamRank(data, TeamRankVersion2, &decoded))
	assert.Equal(t, tr, decoded)
}

func TestTeamRankUpconvertV1(t *testing.T) {
	tr := sampleTeamRank()

	data := encodeTeamRankV1(&tr)
	var decoded TeamRank
	require.NoError(t, DecodeTeamRank(data, TeamRankVersion1, &decoded))

	assert.Equal(t, NoMMR, decoded.MMR)

	expected := tr
	expected.MMR = NoMMR
	assert.Equal(t, expected, decoded)
}

func TestTeamRankUpconvertV0(t *testing.T) {
	tr := sampleTeamRank()

	data := encodeTeamRankV0(&tr, 17, 23)
	var decoded TeamRank
	require.NoError(t, DecodeTeamRank(data, TeamRankVersion0, &decoded))

	expected := tr
	expected.MMR = NoMMR
	expected.Tier = 0
	assert.Equal(t, expected, decoded)
}

func TestTeamRanksHeaderRoundTrip(t *testing.T) {
	data := EncodeTeamRanksHeader(NewTeamRanksHeader(321))
	trh, err := DecodeTeamRanksHeader(data)
	require.NoError(t, err)
	assert.Equal(t, TeamRankMagicNumber, trh.MagicNumber)
	assert.Equal(t, TeamRankVersion2, trh.Version)
	assert.EqualValues(t, 321, trh.Count)
}

func TestTeamRanksHeaderBadMagic(t *testing.T) {
	data := EncodeTeamRanksHeader(TeamRanksHeader{MagicNumber: 0xDEADBEEF, Version: TeamRankVersion2, Count: 1})
	_, err := DecodeTeamRanksHeader(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestTeamRanksHeaderBadVersion(t *testing.T) {
	for _, version := range []uint32{0, 3, 100} {
		data := EncodeTeamRanksHeader(TeamRanksHeader{MagicNumber: TeamRankMagicNumber, Version: version, Count: 1})
		_, err := DecodeTeamRanksHeader(data)
		assert.ErrorIs(t, err, ErrBadDataVersion)
	}
}

func TestTeamRanksBlobRoundTrip(t *testing.T) {
	trs := []TeamRank{sampleTeamRank(), sampleTeamRank(), sampleTeamRank()}
	trs[1].TeamID = 2222222
	trs[1].DataTime = 1496000100
	trs[2].TeamID = 3333333
	trs[2].DataTime = 1496000200

	blob := EncodeTeamRanks(trs)
	assert.Len(t, blob, TeamRanksHeaderSize+3*TeamRankV2Size)

	decoded, skipped, err := DecodeTeamRanks(blob, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, trs, decoded)
}

func TestTeamRanksBlobDataTimeFilter(t *testing.T) {
	trs := []TeamRank{sampleTeamRank(), sampleTeamRank()}
	trs[1].TeamID = 2222222
	trs[1].DataTime = 1496000100

	decoded, skipped, err := DecodeTeamRanks(EncodeTeamRanks(trs), 1496000050)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, decoded, 1)
	assert.EqualValues(t, 2222222, decoded[0].TeamID)
}

func TestRankingStatsRoundTrip(t *testing.T) {
	stats := RankingStats{
		Version: RankingStatsVersion1,
		Datas: []RankingStatsData{
			{Count: 10, Wins: 200, Losses: 100, Points: 1234.5},
			{},
			{Count: 1, Wins: 2, Losses: 3, Points: 0.25},
		},
	}

	decoded, err := DecodeRankingStats(EncodeRankingStats(&stats))
	require.NoError(t, err)
	assert.Equal(t, stats.Version, decoded.Version)
	assert.Equal(t, stats.Datas, decoded.Datas)
}

func TestRankingStatsBadVersion(t *testing.T) {
	_, err := DecodeRankingStats("2 0")
	assert.Error(t, err)
}
