// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64

package spin

// spinRounds for targets without per-arch tuning. Kept small: on weaker or
// in-order cores a long busy loop delays the eventual Gosched for no gain.
const spinRounds = 16
