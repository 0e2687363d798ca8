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
	"sort"
	"strings"

	"go.uber.org/zap"
)

// IdentityStore resolves player and team identity keys to persistent ids. Resolved
// entries are inserted into the cache and consumed from the unknown set, so the caller
// can distinguish existing from newly inserted identities.
type IdentityStore interface {
	GetOrInsertPlayers(ctx context.Context, cache map[PlayerKey]Player, unknown map[PlayerKey]Player) (int, error)
	GetOrInsertTeams(ctx context.Context, cache map[TeamKey]Team, unknown map[TeamKey]Team, teamSize int) (int, error)
	UpdatePlayers(ctx context.Context, players []Player) error
	UpdateTeams(ctx context.Context, teams []Team) error
}

type sqlIdentityStore struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ IdentityStore = &sqlIdentityStore{}

func NewSQLIdentityStore(logger *zap.Logger, db *sql.DB) IdentityStore {
	return &sqlIdentityStore{logger: logger, db: db}
}

const playerColumns = "id, region, bid, realm, name, tag, clan, season_id, race, league, mode, last_seen"

func scanPlayerRows(rows *sql.Rows, cache map[PlayerKey]Player, unknown map[PlayerKey]Player) error {
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Region, &p.Bid, &p.Realm, &p.Name, &p.Tag, &p.Clan,
			&p.SeasonID, &p.Race, &p.League, &p.Mode, &p.LastSeen); err != nil {
			return err
		}
		cache[p.Key()] = p
		delete(unknown, p.Key())
	}
	return rows.Err()
}

func (s *sqlIdentityStore) GetOrInsertPlayers(ctx context.Context, cache map[PlayerKey]Player, unknown map[PlayerKey]Player) (int, error) {
	if len(unknown) == 0 {
		return 0, nil
	}

	count := 0
	err := ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		count = 0

		// Get current players.
		keys := make([]string, 0, len(unknown))
		params := make([]interface{}, 0, 3*len(unknown))
		for _, p := range sortedPlayers(unknown) {
			keys = append(keys, fmt.Sprintf("($%d::smallint,$%d::bigint,$%d::smallint)", len(params)+1, len(params)+2, len(params)+3))
			params = append(params, p.Region, p.Bid, p.Realm)
		}
		query := "SELECT " + playerColumns + " FROM player WHERE (region, bid, realm) IN (VALUES " + strings.Join(keys, ",") + ")"
		rows, err := tx.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		if err := scanPlayerRows(rows, cache, unknown); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(unknown) == 0 {
			return nil
		}

		// Insert what is left.
		values := make([]string, 0, len(unknown))
		params = params[:0]
		for _, p := range sortedPlayers(unknown) {
			placeholders := make([]string, 0, 11)
			for i := 0; i < 11; i++ {
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)+i+1))
			}
			values = append(values, "("+strings.Join(placeholders, ",")+")")
			params = append(params, p.Region, p.Bid, p.Realm, p.Name, p.Tag, p.Clan,
				p.SeasonID, p.Mode, p.League, p.Race, p.LastSeen)
		}
		query = "INSERT INTO player (region, bid, realm, name, tag, clan, season_id, mode, league, race, last_seen) VALUES " +
			strings.Join(values, ",") + " RETURNING " + playerColumns
		rows, err = tx.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()

		count = len(unknown)
		return scanPlayerRows(rows, cache, unknown)
	})
	if err != nil {
		return 0, err
	}
	if len(unknown) != 0 {
		return 0, fmt.Errorf("%w: %d players unresolved after get or insert", ErrBug, len(unknown))
	}
	return count, nil
}

func (s *sqlIdentityStore) UpdatePlayers(ctx context.Context, players []Player) error {
	if len(players) == 0 {
		return nil
	}

	return ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE updated_player (LIKE player) ON COMMIT DROP"); err != nil {
			return err
		}

		values := make([]string, 0, len(players))
		params := make([]interface{}, 0, 12*len(players))
		for _, p := range players {
			placeholders := make([]string, 0, 12)
			for i := 0; i < 12; i++ {
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)+i+1))
			}
			values = append(values, "("+strings.Join(placeholders, ",")+")")
			params = append(params, p.ID, p.Region, p.Bid, p.Realm, p.Name, p.Tag, p.Clan,
				p.SeasonID, p.Mode, p.League, p.Race, p.LastSeen)
		}
		query := "INSERT INTO updated_player (id, region, bid, realm, name, tag, clan, season_id, mode, league, race, last_seen) VALUES " +
			strings.Join(values, ",")
		if _, err := tx.ExecContext(ctx, query, params...); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
UPDATE player t
SET
  name = s.name,
  tag = s.tag,
  clan = s.clan,
  race = s.race,
  league = s.league,
  mode = s.mode,
  season_id = s.season_id,
  last_seen = s.last_seen
FROM updated_player s
WHERE t.id = s.id`)
		return err
	})
}

const teamColumns = "id, region, mode, season_id, version, league" +
	", member0_id, member1_id, member2_id, member3_id, race0, race1, race2, race3, last_seen"

// Member ids are stored as NULL for positions beyond the team size, zero is the
// in-memory sentinel.
func nullIfZero(id uint32) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func scanTeamRows(rows *sql.Rows, cache map[TeamKey]Team, unknown map[TeamKey]Team) error {
	for rows.Next() {
		var t Team
		var m0, m1, m2, m3 sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Region, &t.Mode, &t.SeasonID, &t.Version, &t.League,
			&m0, &m1, &m2, &m3, &t.R0, &t.R1, &t.R2, &t.R3, &t.LastSeen); err != nil {
			return err
		}
		t.M0 = uint32(m0.Int64)
		t.M1 = uint32(m1.Int64)
		t.M2 = uint32(m2.Int64)
		t.M3 = uint32(m3.Int64)
		cache[t.Key()] = t
		delete(unknown, t.Key())
	}
	return rows.Err()
}

func (s *sqlIdentityStore) GetOrInsertTeams(ctx context.Context, cache map[TeamKey]Team, unknown map[TeamKey]Team, teamSize int) (int, error) {
	if len(unknown) == 0 {
		return 0, nil
	}
	if teamSize < 1 || teamSize > 4 {
		return 0, fmt.Errorf("%w: team size %d", ErrBug, teamSize)
	}

	memberColumns := []string{"member0_id", "member1_id", "member2_id", "member3_id"}[:teamSize]

	count := 0
	err := ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		count = 0

		// Get current teams. Member positions beyond the team size are NULL and must
		// not participate in the key.
		keys := make([]string, 0, len(unknown))
		params := make([]interface{}, 0, (1+teamSize)*len(unknown))
		for _, t := range sortedTeams(unknown) {
			members := []uint32{t.M0, t.M1, t.M2, t.M3}[:teamSize]
			placeholders := make([]string, 0, 1+teamSize)
			placeholders = append(placeholders, fmt.Sprintf("$%d::smallint", len(params)+1))
			params = append(params, t.Mode)
			for _, m := range members {
				placeholders = append(placeholders, fmt.Sprintf("$%d::integer", len(params)+1))
				params = append(params, m)
			}
			keys = append(keys, "("+strings.Join(placeholders, ",")+")")
		}
		query := "SELECT " + teamColumns + " FROM team WHERE (mode, " + strings.Join(memberColumns, ", ") + ") IN (VALUES " +
			strings.Join(keys, ",") + ")"
		rows, err := tx.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		if err := scanTeamRows(rows, cache, unknown); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(unknown) == 0 {
			return nil
		}

		// Insert what is left.
		values := make([]string, 0, len(unknown))
		params = params[:0]
		for _, t := range sortedTeams(unknown) {
			placeholders := make([]string, 0, 14)
			for i := 0; i < 14; i++ {
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)+i+1))
			}
			values = append(values, "("+strings.Join(placeholders, ",")+")")
			params = append(params, t.Region, t.Mode, t.SeasonID, t.Version, t.League,
				nullIfZero(t.M0), nullIfZero(t.M1), nullIfZero(t.M2), nullIfZero(t.M3),
				t.R0, t.R1, t.R2, t.R3, t.LastSeen)
		}
		query = "INSERT INTO team (region, mode, season_id, version, league" +
			", member0_id, member1_id, member2_id, member3_id, race0, race1, race2, race3, last_seen) VALUES " +
			strings.Join(values, ",") + " RETURNING " + teamColumns
		rows, err = tx.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()

		count = len(unknown)
		return scanTeamRows(rows, cache, unknown)
	})
	if err != nil {
		return 0, err
	}
	if len(unknown) != 0 {
		return 0, fmt.Errorf("%w: %d teams unresolved after get or insert", ErrBug, len(unknown))
	}
	return count, nil
}

func (s *sqlIdentityStore) UpdateTeams(ctx context.Context, teams []Team) error {
	if len(teams) == 0 {
		return nil
	}

	return ExecuteInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE updated_team (LIKE team) ON COMMIT DROP"); err != nil {
			return err
		}

		values := make([]string, 0, len(teams))
		params := make([]interface{}, 0, 15*len(teams))
		for _, t := range teams {
			placeholders := make([]string, 0, 15)
			for i := 0; i < 15; i++ {
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(params)+i+1))
			}
			values = append(values, "("+strings.Join(placeholders, ",")+")")
			params = append(params, t.ID, t.Region, t.Mode, t.SeasonID, t.Version, t.League,
				nullIfZero(t.M0), nullIfZero(t.M1), nullIfZero(t.M2), nullIfZero(t.M3),
				t.R0, t.R1, t.R2, t.R3, t.LastSeen)
		}
		query := "INSERT INTO updated_team (id, region, mode, season_id, version, league" +
			", member0_id, member1_id, member2_id, member3_id, race0, race1, race2, race3, last_seen) VALUES " +
			strings.Join(values, ",")
		if _, err := tx.ExecContext(ctx, query, params...); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
UPDATE team t
SET
  race0 = s.race0,
  race1 = s.race1,
  race2 = s.race2,
  race3 = s.race3,
  season_id = s.season_id,
  version = s.version,
  league = s.league,
  last_seen = s.last_seen
FROM updated_team s
WHERE t.id = s.id`)
		return err
	})
}

// Deterministic iteration keeps the generated statements stable, which helps both
// statement caching and test reproducibility.
func sortedPlayers(m map[PlayerKey]Player) []Player {
	ps := make([]Player, 0, len(m))
	for _, p := range m {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		x, y := ps[i], ps[j]
		if x.Region != y.Region {
			return x.Region < y.Region
		}
		if x.Bid != y.Bid {
			return x.Bid < y.Bid
		}
		return x.Realm < y.Realm
	})
	return ps
}

func sortedTeams(m map[TeamKey]Team) []Team {
	ts := make([]Team, 0, len(m))
	for _, t := range m {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool {
		x, y := ts[i], ts[j]
		if x.Mode != y.Mode {
			return x.Mode < y.Mode
		}
		if x.M0 != y.M0 {
			return x.M0 < y.M0
		}
		if x.M1 != y.M1 {
			return x.M1 < y.M1
		}
		if x.M2 != y.M2 {
			return x.M2 < y.M2
		}
		return x.M3 < y.M3
	})
	return ts
}
