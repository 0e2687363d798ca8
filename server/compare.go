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

// User facing sort keys. SortKeyLadderRank is named "ladder_rank" on the wire but
// sorts on league, tier and points, which was the pre mmr ladder order.
const (
	SortKeyLadderRank int8 = 0
	SortKeyPlayed     int8 = 1
	SortKeyWins       int8 = 2
	SortKeyLosses     int8 = 3
	SortKeyWinRate    int8 = 4
	SortKeyMMR        int8 = 5
)

// NotSet is the sentinel for an unset filter value.
const NotSet int8 = -64

// league descending, tier ascending, points descending.
func cmpLeagueTierPoints(x, y *TeamRank) int {
	if x.League == y.League && x.Tier == y.Tier && x.Points == y.Points {
		return 0
	}
	if x.League > y.League ||
		(x.League == y.League && x.Tier < y.Tier) ||
		(x.League == y.League && x.Tier == y.Tier && x.Points > y.Points) {
		return -1
	}
	return 1
}

// CmpTR compares team ranks with the same version and mode.
//
// If Strict is true the comparator sticks to the primary ordering and reports equal
// keys as not-less both ways, which rank calculation needs. If Strict is false
// additional values are compared to make a more appealing sort order for displaying.
//
// Region, League and Race can be set to a value or NotSet. A set value is primarily
// used to filter records, see Use, but always takes precedence in the sort order too
// (in region, league, race order, with league sorting descending so higher leagues
// come first).
type CmpTR struct {
	Reverse bool
	Region  int8
	League  int8
	Race    int8
	Key     int8
	Strict  bool
}

// NewCmpTR returns a comparator with the given filter and sorting properties.
func NewCmpTR(reverse bool, region, league, race, key int8, strict bool) CmpTR {
	return CmpTR{Reverse: reverse, Region: region, League: league, Race: race, Key: key, Strict: strict}
}

// Less reports whether x sorts before y. Reverse flips the primary key outcome only,
// not the display tiebreaks.
func (c *CmpTR) Less(x, y *TeamRank) bool {
	if c.Region != NotSet && x.Region != y.Region {
		return x.Region < y.Region
	}
	if c.League != NotSet && x.League != y.League {
		return x.League > y.League
	}
	if c.Race != NotSet && x.Race0 != y.Race0 {
		return x.Race0 < y.Race0
	}

	xPlayed := x.Wins + x.Losses
	yPlayed := y.Wins + y.Losses

	switch c.Key {

	case SortKeyMMR:
		if x.MMR != y.MMR {
			return c.Reverse != (x.MMR > y.MMR)
		}
		if c.Strict {
			return false
		}
		return x.Wins > y.Wins ||
			(x.Wins == y.Wins && x.Losses < y.Losses) ||
			(x.Wins == y.Wins && x.Losses == y.Losses && x.TeamID < y.TeamID)

	case SortKeyLadderRank:
		if res := cmpLeagueTierPoints(x, y); res != 0 {
			return c.Reverse != (res < 0)
		}
		if c.Strict {
			return false
		}
		if x.Wins == y.Wins && x.Losses == y.Losses && x.TeamID == y.TeamID {
			return false
		}
		return x.Wins > y.Wins ||
			(x.Wins == y.Wins && x.Losses < y.Losses) ||
			(x.Wins == y.Wins && x.Losses == y.Losses && x.TeamID < y.TeamID)

	case SortKeyPlayed:
		if xPlayed != yPlayed {
			return c.Reverse != (xPlayed > yPlayed)
		}
		if c.Strict {
			return false
		}
		if x.MMR == y.MMR && x.Wins == y.Wins && x.TeamID == y.TeamID {
			return false
		}
		return x.MMR > y.MMR ||
			(x.MMR == y.MMR && x.Wins > y.Wins) ||
			(x.MMR == y.MMR && x.Wins == y.Wins && x.TeamID < y.TeamID)

	case SortKeyWins:
		if x.Wins != y.Wins {
			return c.Reverse != (x.Wins > y.Wins)
		}
		if c.Strict {
			return false
		}
		if x.MMR == y.MMR && x.Losses == y.Losses && x.TeamID == y.TeamID {
			return false
		}
		return x.MMR > y.MMR ||
			(x.MMR == y.MMR && x.Losses < y.Losses) ||
			(x.MMR == y.MMR && x.Losses == y.Losses && x.TeamID < y.TeamID)

	case SortKeyLosses:
		if x.Losses != y.Losses {
			return c.Reverse != (x.Losses > y.Losses)
		}
		if c.Strict {
			return false
		}
		if x.Wins == y.Wins && x.TeamID == y.TeamID {
			return false
		}
		return x.Wins < y.Wins ||
			(x.Wins == y.Wins && x.TeamID < y.TeamID)

	case SortKeyWinRate:
		xRate := float64(0)
		if xPlayed > 0 {
			xRate = float64(x.Wins) / float64(xPlayed)
		}
		yRate := float64(0)
		if yPlayed > 0 {
			yRate = float64(y.Wins) / float64(yPlayed)
		}
		if xRate != yRate {
			return c.Reverse != (xRate > yRate)
		}
		if c.Strict {
			return false
		}
		if xPlayed == yPlayed && x.MMR == y.MMR && x.TeamID == y.TeamID {
			return false
		}
		return x.Wins > y.Wins ||
			(x.Wins == y.Wins && x.Losses < y.Losses) ||
			(x.Wins == y.Wins && x.Losses == y.Losses && x.MMR > y.MMR) ||
			(x.Wins == y.Wins && x.Losses == y.Losses && x.MMR == y.MMR && x.TeamID < y.TeamID)
	}

	// Unknown keys are rejected by request validation before a comparator is built.
	return false
}

// Equal reports whether x and y have the same key under the comparator.
func (c *CmpTR) Equal(x, y *TeamRank) bool {
	return !c.Less(x, y) && !c.Less(y, x)
}

// Use reports whether a record matches every filter value that is not NotSet, in
// practice whether it is a good idea to compare it with this comparator.
func (c *CmpTR) Use(x *TeamRank) bool {
	// Unrated teams never appear in mmr sorted ladders, the upstream API sometimes
	// drops ratings it published before.
	if c.Key == SortKeyMMR && x.MMR == NoMMR {
		return false
	}
	if c.Region != NotSet && x.Region != c.Region {
		return false
	}
	if c.League != NotSet && x.League != c.League {
		return false
	}
	if c.Race != NotSet && x.Race0 != c.Race {
		return false
	}
	return true
}

// CmpTRVersionMode sorts all team ranks globally, version and mode first, then the
// wrapped comparator within each version and mode group.
type CmpTRVersionMode struct {
	Cmp CmpTR
}

func (c *CmpTRVersionMode) Less(x, y *TeamRank) bool {
	if x.Version < y.Version || (x.Version == y.Version && x.Mode < y.Mode) {
		return true
	}
	if x.Version == y.Version && x.Mode == y.Mode {
		return c.Cmp.Less(x, y)
	}
	return false
}

// lessTeamIDVersionRace is the identity order persisted ranking blobs are sorted in,
// the binary search in the team history reader depends on it.
func lessTeamIDVersionRace(x, y *TeamRank) bool {
	return x.TeamID < y.TeamID ||
		(x.TeamID == y.TeamID && x.Version < y.Version) ||
		(x.TeamID == y.TeamID && x.Version == y.Version && x.Race0 < y.Race0)
}

// lessTeamIDVersion groups all race records of a team and game version together.
func lessTeamIDVersion(x, y *TeamRank) bool {
	return x.TeamID < y.TeamID ||
		(x.TeamID == y.TeamID && x.Version < y.Version)
}

func sameTeamIDVersion(x, y *TeamRank) bool {
	return x.TeamID == y.TeamID && x.Version == y.Version
}

// lessVersionModeWorldRank restores the served ranking order after loading from the
// database.
func lessVersionModeWorldRank(x, y *TeamRank) bool {
	return x.Version < y.Version ||
		(x.Version == y.Version && x.Mode < y.Mode) ||
		(x.Version == y.Version && x.Mode == y.Mode && x.WorldRank < y.WorldRank)
}

// lessRankingStatsV1 is the iteration order used when summarizing version 1 stats.
func lessRankingStatsV1(x, y *TeamRank) bool {
	if x.Mode != y.Mode {
		return x.Mode < y.Mode
	}
	if x.Version != y.Version {
		return x.Version < y.Version
	}
	if x.Region != y.Region {
		return x.Region < y.Region
	}
	if x.League != y.League {
		return x.League < y.League
	}
	return x.Race0 < y.Race0
}
