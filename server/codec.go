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
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The ranking blob is a header followed by fixed width records in the host's byte
// order. The magic number makes a reader on a foreign-endian host fail fast instead of
// decoding garbage.
const (
	TeamRankMagicNumber uint32 = 0xD00D6A3E

	// TeamRankVersion0 is the first version, with active rank and without tier.
	TeamRankVersion0 uint32 = 0
	// TeamRankVersion1 added tier and removed the active ranking.
	TeamRankVersion1 uint32 = 1
	// TeamRankVersion2 added mmr.
	TeamRankVersion2 uint32 = 2

	TeamRanksHeaderSize = 12

	TeamRankV0Size = 84
	TeamRankV1Size = 77
	TeamRankV2Size = 79
)

// TeamRankSize returns the on disk record size for a blob data version.
func TeamRankSize(version uint32) (int, error) {
	switch version {
	case TeamRankVersion0:
		return TeamRankV0Size, nil
	case TeamRankVersion1:
		return TeamRankV1Size, nil
	case TeamRankVersion2:
		return TeamRankV2Size, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrBadDataVersion, version)
}

type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u32(v uint32) {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, v)
}

func (w *byteWriter) u64(v uint64) {
	w.buf = binary.NativeEndian.AppendUint64(w.buf, v)
}

func (w *byteWriter) i16(v int16) {
	w.buf = binary.NativeEndian.AppendUint16(w.buf, uint16(v))
}

func (w *byteWriter) i8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *byteWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *byteWriter) f64(v float64) {
	w.u64(math.Float64bits(v))
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u32() uint32 {
	v := binary.NativeEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) u64() uint64 {
	v := binary.NativeEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *byteReader) i16() int16 {
	v := int16(binary.NativeEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v
}

func (r *byteReader) i8() int8 {
	v := int8(r.buf[r.pos])
	r.pos++
	return v
}

func (r *byteReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *byteReader) f64() float64 {
	return math.Float64frombits(r.u64())
}

// EncodeTeamRanksHeader encodes a blob header.
func EncodeTeamRanksHeader(trh TeamRanksHeader) []byte {
	w := byteWriter{buf: make([]byte, 0, TeamRanksHeaderSize)}
	w.u32(trh.MagicNumber)
	w.u32(trh.Version)
	w.u32(trh.Count)
	return w.buf
}

// DecodeTeamRanksHeader decodes and validates a blob header. Only versions 1 and 2 can
// still exist in storage, version 0 blobs were rewritten when tiers were introduced.
func DecodeTeamRanksHeader(data []byte) (TeamRanksHeader, error) {
	var trh TeamRanksHeader
	if len(data) < TeamRanksHeaderSize {
		return trh, fmt.Errorf("team ranks header too short, %d bytes", len(data))
	}
	r := byteReader{buf: data}
	trh.MagicNumber = r.u32()
	trh.Version = r.u32()
	trh.Count = r.u32()

	if trh.MagicNumber != TeamRankMagicNumber {
		return trh, fmt.Errorf("%w: expected %X, was %X", ErrBadMagic, TeamRankMagicNumber, trh.MagicNumber)
	}
	if trh.Version != TeamRankVersion1 && trh.Version != TeamRankVersion2 {
		return trh, fmt.Errorf("%w: %d", ErrBadDataVersion, trh.Version)
	}
	return trh, nil
}

// EncodeTeamRank appends one record in the current data version to buf.
func EncodeTeamRank(buf []byte, tr *TeamRank) []byte {
	w := byteWriter{buf: buf}
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
	w.i16(tr.MMR)
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

// DecodeTeamRank decodes one record of any data version into the latest record struct.
// Version 0 records skip the trailing active rank pair and get tier 0 and no mmr,
// version 1 records get no mmr.
func DecodeTeamRank(data []byte, version uint32, tr *TeamRank) error {
	size, err := TeamRankSize(version)
	if err != nil {
		return err
	}
	if len(data) < size {
		return fmt.Errorf("team rank v%d record too short, %d bytes", version, len(data))
	}

	r := byteReader{buf: data}
	tr.TeamID = r.u32()
	tr.DataTime = r.f64()
	tr.Version = r.i8()
	tr.Region = r.i8()
	tr.Mode = r.i8()
	tr.League = r.i8()
	if version >= TeamRankVersion1 {
		tr.Tier = r.i8()
	} else {
		tr.Tier = 0
	}
	tr.LadderID = r.u32()
	tr.JoinTime = r.f32()
	tr.SourceID = r.u32()
	if version >= TeamRankVersion2 {
		tr.MMR = r.i16()
	} else {
		tr.MMR = NoMMR
	}
	tr.Points = r.f32()
	tr.Wins = r.u32()
	tr.Losses = r.u32()
	tr.Race0 = r.i8()
	tr.Race1 = r.i8()
	tr.Race2 = r.i8()
	tr.Race3 = r.i8()
	tr.LadderRank = r.u32()
	tr.LadderCount = r.u32()
	tr.LeagueRank = r.u32()
	tr.LeagueCount = r.u32()
	tr.RegionRank = r.u32()
	tr.RegionCount = r.u32()
	tr.WorldRank = r.u32()
	tr.WorldCount = r.u32()
	// Version 0 has a trailing active_rank and active_count that are dropped.
	return nil
}

// EncodeTeamRanks encodes a full ranking blob, header plus records, in the current
// data version.
func EncodeTeamRanks(trs []TeamRank) []byte {
	buf := make([]byte, 0, TeamRanksHeaderSize+len(trs)*TeamRankV2Size)
	buf = append(buf, EncodeTeamRanksHeader(NewTeamRanksHeader(uint32(len(trs))))...)
	for i := range trs {
		buf = EncodeTeamRank(buf, &trs[i])
	}
	return buf
}

// DecodeTeamRanks decodes a full ranking blob, dropping records with a data time below
// minDataTime. The skipped count is returned for logging.
func DecodeTeamRanks(data []byte, minDataTime float64) ([]TeamRank, int, error) {
	trh, err := DecodeTeamRanksHeader(data)
	if err != nil {
		return nil, 0, err
	}
	size, err := TeamRankSize(trh.Version)
	if err != nil {
		return nil, 0, err
	}

	trs := make([]TeamRank, 0, trh.Count)
	skipped := 0
	pos := TeamRanksHeaderSize
	for i := uint32(0); i < trh.Count; i++ {
		var tr TeamRank
		if err := DecodeTeamRank(data[pos:], trh.Version, &tr); err != nil {
			return nil, 0, fmt.Errorf("record %d of %d: %w", i, trh.Count, err)
		}
		pos += size
		if tr.DataTime >= minDataTime {
			trs = append(trs, tr)
		} else {
			skipped++
		}
	}
	return trs, skipped, nil
}

// EncodeRankingStats encodes the stats summary as the version 1 whitespace delimited
// text format.
func EncodeRankingStats(stats *RankingStats) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(stats.Version), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(stats.Datas)))
	for i := range stats.Datas {
		d := &stats.Datas[i]
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(d.Count, 10))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(d.Wins, 10))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(d.Losses, 10))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(d.Points, 'g', -1, 64))
	}
	return b.String()
}

// DecodeRankingStats parses the version 1 text format.
func DecodeRankingStats(data string) (RankingStats, error) {
	var stats RankingStats
	fields := strings.Fields(data)
	if len(fields) < 2 {
		return stats, fmt.Errorf("ranking stats data too short, %d fields", len(fields))
	}

	version, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return stats, fmt.Errorf("ranking stats version: %w", err)
	}
	stats.Version = uint32(version)
	if stats.Version != RankingStatsVersion1 {
		return stats, fmt.Errorf("can not handle ranking stats version %d", stats.Version)
	}

	size, err := strconv.Atoi(fields[1])
	if err != nil {
		return stats, fmt.Errorf("ranking stats size: %w", err)
	}
	if len(fields) != 2+4*size {
		return stats, fmt.Errorf("ranking stats data has %d fields, expected %d", len(fields), 2+4*size)
	}

	stats.Datas = make([]RankingStatsData, 0, size)
	for i := 0; i < size; i++ {
		var d RankingStatsData
		pos := 2 + 4*i
		if d.Count, err = strconv.ParseUint(fields[pos], 10, 64); err != nil {
			return stats, fmt.Errorf("ranking stats count %d: %w", i, err)
		}
		if d.Wins, err = strconv.ParseUint(fields[pos+1], 10, 64); err != nil {
			return stats, fmt.Errorf("ranking stats wins %d: %w", i, err)
		}
		if d.Losses, err = strconv.ParseUint(fields[pos+2], 10, 64); err != nil {
			return stats, fmt.Errorf("ranking stats losses %d: %w", i, err)
		}
		if d.Points, err = strconv.ParseFloat(fields[pos+3], 64); err != nil {
			return stats, fmt.Errorf("ranking stats points %d: %w", i, err)
		}
		stats.Datas = append(stats.Datas, d)
	}
	return stats, nil
}
