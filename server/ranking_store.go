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
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RankingStore reads and writes ranking metadata, the packed team rank blobs and the
// stats text blobs. Windowed reads fetch only a substring of the blob, records before
// the window start are never materialised.
type RankingStore interface {
	LoadTeamRanksHeader(ctx context.Context, rankingID uint32) (TeamRanksHeader, error)
	LoadTeamRankWindow(ctx context.Context, rankingID uint32, dataVersion uint32, index uint32, windowSize uint32) ([]TeamRank, error)
	LoadTeamRanks(ctx context.Context, rankingID uint32, minDataTime float64) ([]TeamRank, error)
	SaveTeamRanks(ctx context.Context, rankingID uint32, now float64, teamRanks []TeamRank) error

	AvailableRankings(ctx context.Context, fromSeason uint32) ([]Ranking, error)
	LatestRanking(ctx context.Context) (Ranking, error)

	SaveRankingStats(ctx context.Context, rankingID uint32, now float64, stats *RankingStats) error
	LoadRankingStats(ctx context.Context, rankingID uint32) (RankingStats, error)
	LoadAllRankingStats(ctx context.Context, fromSeason uint32) ([]RankingStats, error)

	SeenTeamIDs(ctx context.Context, since time.Time) (map[uint32]struct{}, error)
}

type sqlRankingStore struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ RankingStore = &sqlRankingStore{}

func NewSQLRankingStore(logger *zap.Logger, db *sql.DB) RankingStore {
	return &sqlRankingStore{logger: logger, db: db}
}

func (s *sqlRankingStore) LoadTeamRanksHeader(ctx context.Context, rankingID uint32) (TeamRanksHeader, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT substring(data FROM 1 FOR $1) FROM ranking_data WHERE ranking_id = $2",
		TeamRanksHeaderSize, rankingID).Scan(&data)
	if err != nil {
		return TeamRanksHeader{}, fmt.Errorf("load header from ranking_data with ranking_id %d: %w", rankingID, err)
	}
	trh, err := DecodeTeamRanksHeader(data)
	if err != nil {
		return TeamRanksHeader{}, fmt.Errorf("load header from ranking_data with ranking_id %d: %w", rankingID, err)
	}
	return trh, nil
}

func (s *sqlRankingStore) LoadTeamRankWindow(ctx context.Context, rankingID uint32, dataVersion uint32, index uint32, windowSize uint32) ([]TeamRank, error) {
	trSize, err := TeamRankSize(dataVersion)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.QueryRowContext(ctx,
		"SELECT substring(data FROM $1 FOR $2) FROM ranking_data WHERE ranking_id = $3",
		TeamRanksHeaderSize+trSize*int(index)+1, trSize*int(windowSize), rankingID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("load window from ranking_data with ranking_id %d: %w", rankingID, err)
	}

	trs := make([]TeamRank, 0, windowSize)
	for i := uint32(0); i < windowSize && int(i+1)*trSize <= len(data); i++ {
		var tr TeamRank
		if err := DecodeTeamRank(data[int(i)*trSize:], dataVersion, &tr); err != nil {
			return nil, err
		}
		trs = append(trs, tr)
	}
	return trs, nil
}

func (s *sqlRankingStore) LoadTeamRanks(ctx context.Context, rankingID uint32, minDataTime float64) ([]TeamRank, error) {
	start := time.Now()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM ranking_data WHERE ranking_id = $1", rankingID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("load ranking_data with ranking_id %d: %w", rankingID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("got size 0 from ranking %d", rankingID)
	}

	trs, skipped, err := DecodeTeamRanks(data, minDataTime)
	if err != nil {
		return nil, fmt.Errorf("load ranking_data with ranking_id %d: %w", rankingID, err)
	}

	s.logger.Info("Loaded team ranks from ranking_data",
		zap.Uint32("ranking_id", rankingID),
		zap.Int("count", len(trs)),
		zap.Int("bytes", len(data)),
		zap.Int("skipped_by_data_time", skipped),
		zap.Duration("elapsed", time.Since(start)))
	return trs, nil
}

func (s *sqlRankingStore) SaveTeamRanks(ctx context.Context, rankingID uint32, now float64, teamRanks []TeamRank) error {
	start := time.Now()

	data := EncodeTeamRanks(teamRanks)
	if len(data) >= 1<<31 {
		return fmt.Errorf("%w: %d bytes for ranking %d", ErrBlobTooLarge, len(data), rankingID)
	}

	err := ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT count(1) FROM ranking_data WHERE ranking_id = $1", rankingID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO ranking_data (id, ranking_id, updated) VALUES ($1, $2, to_timestamp($3))",
				rankingID, rankingID, now); err != nil {
				return err
			}
		}
		if now < 1 {
			_, err := tx.ExecContext(ctx,
				"UPDATE ranking_data SET data = $1 WHERE ranking_id = $2", data, rankingID)
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE ranking_data SET updated = to_timestamp($1), data = $2 WHERE ranking_id = $3",
			now, data, rankingID)
		return err
	})
	if err != nil {
		return fmt.Errorf("save ranking_data with ranking_id %d: %w", rankingID, err)
	}

	s.logger.Info("Saved team ranks to ranking_data",
		zap.Uint32("ranking_id", rankingID),
		zap.Int("count", len(teamRanks)),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

const rankingColumns = "r.id, s.id, s.version, EXTRACT(epoch FROM r.data_time)::float8, EXTRACT(epoch FROM rd.updated)::float8"

func scanRanking(row Scannable) (Ranking, error) {
	var r Ranking
	err := row.Scan(&r.ID, &r.SeasonID, &r.Version, &r.DataTime, &r.Updated)
	return r, err
}

// AvailableRankings lists published rankings (status 1 or 2) from a season on, ordered
// by data time.
func (s *sqlRankingStore) AvailableRankings(ctx context.Context, fromSeason uint32) ([]Ranking, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rankingColumns+
			" FROM ranking_data rd"+
			" JOIN ranking r ON rd.ranking_id = r.id"+
			" JOIN season s ON s.id = r.season_id"+
			" WHERE r.status IN (1, 2) AND r.season_id >= $1 ORDER BY r.data_time", fromSeason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rankings []Ranking
	for rows.Next() {
		r, err := scanRanking(rows)
		if err != nil {
			return nil, err
		}
		rankings = append(rankings, r)
	}
	return rankings, rows.Err()
}

func (s *sqlRankingStore) LatestRanking(ctx context.Context) (Ranking, error) {
	r, err := scanRanking(s.db.QueryRowContext(ctx,
		"SELECT "+rankingColumns+
			" FROM ranking_data rd"+
			" JOIN ranking r ON rd.ranking_id = r.id"+
			" JOIN season s ON s.id = r.season_id"+
			" WHERE r.status IN (1, 2) ORDER BY r.data_time DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return r, ErrNoRanking
	}
	return r, err
}

func (s *sqlRankingStore) SaveRankingStats(ctx context.Context, rankingID uint32, now float64, stats *RankingStats) error {
	start := time.Now()

	data := EncodeRankingStats(stats)
	if len(data) >= 1<<31 {
		return fmt.Errorf("%w: %d bytes of stats for ranking %d", ErrBlobTooLarge, len(data), rankingID)
	}

	err := ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT count(1) FROM ranking_stats WHERE ranking_id = $1", rankingID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO ranking_stats (id, ranking_id, updated) VALUES ($1, $2, to_timestamp($3))",
				rankingID, rankingID, now); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE ranking_stats SET updated = to_timestamp($1), data = $2 WHERE ranking_id = $3",
			now, data, rankingID)
		return err
	})
	if err != nil {
		return fmt.Errorf("save ranking_stats with ranking_id %d: %w", rankingID, err)
	}

	s.logger.Info("Updated ranking_stats",
		zap.Uint32("ranking_id", rankingID),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *sqlRankingStore) LoadRankingStats(ctx context.Context, rankingID uint32) (RankingStats, error) {
	var data string
	var stats RankingStats
	err := s.db.QueryRowContext(ctx,
		"SELECT rs.data, EXTRACT(epoch FROM r.data_time)::float8, r.season_id FROM ranking_stats rs"+
			" JOIN ranking r ON r.id = rs.ranking_id"+
			" WHERE rs.ranking_id = $1", rankingID).Scan(&data, &stats.DataTime, &stats.SeasonID)
	if err != nil {
		return stats, fmt.Errorf("load ranking_stats with ranking_id %d: %w", rankingID, err)
	}

	decoded, err := DecodeRankingStats(data)
	if err != nil {
		return stats, fmt.Errorf("load ranking_stats with ranking_id %d: %w", rankingID, err)
	}
	decoded.RankingID = rankingID
	decoded.DataTime = stats.DataTime
	decoded.SeasonID = stats.SeasonID
	return decoded, nil
}

func (s *sqlRankingStore) LoadAllRankingStats(ctx context.Context, fromSeason uint32) ([]RankingStats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rs.data, r.id, EXTRACT(epoch FROM r.data_time)::float8 AS data_time, s.id, s.version FROM ranking_stats rs"+
			" JOIN ranking r ON r.id = rs.ranking_id"+
			" JOIN season s ON r.season_id = s.id"+
			" WHERE r.status IN (1, 2) AND r.season_id > $1 ORDER BY data_time", fromSeason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []RankingStats
	for rows.Next() {
		var data string
		var rankingID, seasonID uint32
		var dataTime float64
		var seasonVersion int8
		if err := rows.Scan(&data, &rankingID, &dataTime, &seasonID, &seasonVersion); err != nil {
			return nil, err
		}
		stats, err := DecodeRankingStats(data)
		if err != nil {
			return nil, fmt.Errorf("ranking_stats with ranking_id %d: %w", rankingID, err)
		}
		stats.RankingID = rankingID
		stats.DataTime = dataTime
		stats.SeasonID = seasonID
		stats.SeasonVersion = seasonVersion
		list = append(list, stats)
	}
	return list, rows.Err()
}

// SeenTeamIDs returns the ids of teams seen since the threshold (inclusive), used by
// the ranking purger.
func (s *sqlRankingStore) SeenTeamIDs(ctx context.Context, since time.Time) (map[uint32]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM team WHERE last_seen >= $1", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teamIDs := make(map[uint32]struct{})
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		teamIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("Loaded seen team ids", zap.Int("count", len(teamIDs)), zap.Time("since", since))
	return teamIDs, nil
}
