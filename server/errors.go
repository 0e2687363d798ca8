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

import "errors"

var (
	// ErrBadMagic is returned when a ranking blob header does not start with the
	// expected magic number, which also catches blobs written on a foreign-endian
	// host.
	ErrBadMagic = errors.New("bad magic number in team ranks header")

	// ErrBadDataVersion is returned for blob versions the codec cannot handle.
	ErrBadDataVersion = errors.New("unsupported team ranks data version")

	// ErrBlobTooLarge is returned when an encoded ranking does not fit the storage
	// column.
	ErrBlobTooLarge = errors.New("ranking blob too large")

	// ErrSearchLoop is returned when the blob binary search fails to converge, which
	// means the blob is corrupt or not sorted in team id order.
	ErrSearchLoop = errors.New("team rank search did not converge")

	// ErrNoRanking is returned when no published ranking exists.
	ErrNoRanking = errors.New("no published ranking available")

	// ErrBug marks a broken internal invariant. Errors wrapping it are logged with a
	// stack trace at the request boundary and the connection is dropped.
	ErrBug = errors.New("internal invariant violated")
)
