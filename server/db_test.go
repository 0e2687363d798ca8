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
	"database/sql"
	"os"
	"testing"
)

// NewDB connects to the integration test database. Point RANKSERVER_TEST_DATABASE at
// a PostgreSQL instance to run the sql store tests, without one they are skipped.
func NewDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("RANKSERVER_TEST_DATABASE")
	if dsn == "" {
		dsn = "postgresql://postgres@127.0.0.1:5432/rankserver_test?sslmode=disable"
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("Error connecting to database", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping, test database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupRankingSchema creates the side tables the stores expect and empties them, so
// every test starts from a clean database.
func setupRankingSchema(t *testing.T, db *sql.DB) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS player (
			id serial PRIMARY KEY,
			region smallint NOT NULL,
			bid bigint NOT NULL,
			realm smallint NOT NULL,
			name varchar(64) NOT NULL,
			tag varchar(32) NOT NULL,
			clan varchar(64) NOT NULL,
			season_id integer NOT NULL,
			mode smallint NOT NULL,
			league smallint NOT NULL,
			race smallint NOT NULL,
			last_seen timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS team (
			id serial PRIMARY KEY,
			region smallint NOT NULL,
			mode smallint NOT NULL,
			season_id integer NOT NULL,
			version smallint NOT NULL,
			league smallint NOT NULL,
			member0_id integer,
			member1_id integer,
			member2_id integer,
			member3_id integer,
			race0 smallint NOT NULL,
			race1 smallint NOT NULL,
			race2 smallint NOT NULL,
			race3 smallint NOT NULL,
			last_seen timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS season (
			id integer PRIMARY KEY,
			version smallint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ranking (
			id integer PRIMARY KEY,
			season_id integer NOT NULL,
			data_time timestamptz NOT NULL,
			status smallint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ranking_data (
			id integer PRIMARY KEY,
			ranking_id integer NOT NULL,
			data bytea,
			updated timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ranking_stats (
			id integer PRIMARY KEY,
			ranking_id integer NOT NULL,
			data text,
			updated timestamptz NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatal("Could not create test tables.", err)
		}
	}

	if _, err := db.Exec(
		"TRUNCATE player, team, season, ranking, ranking_data, ranking_stats RESTART IDENTITY"); err != nil {
		t.Fatal("Could not truncate test tables.", err)
	}
}

// insertRanking seeds the ranking metadata rows the store joins against, the blob row
// itself is written by SaveTeamRanks.
func insertRanking(t *testing.T, db *sql.DB, rankingID, seasonID uint32, seasonVersion int8, dataTime float64, status int) {
	if _, err := db.Exec(
		"INSERT INTO season (id, version) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
		seasonID, seasonVersion); err != nil {
		t.Fatal("Could not insert season.", err)
	}
	if _, err := db.Exec(
		"INSERT INTO ranking (id, season_id, data_time, status) VALUES ($1, $2, to_timestamp($3), $4)",
		rankingID, seasonID, dataTime, status); err != nil {
		t.Fatal("Could not insert ranking.", err)
	}
}
