// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package spin

// spinRounds for amd64. Out-of-order cores retire the empty loop very
// quickly, so a larger count is needed to cover a typical cache-miss-sized
// contention window.
const spinRounds = 64
