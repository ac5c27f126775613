// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import "errors"

// ErrCapacityExhausted is returned (wrapped, with sweep detail) by
// TryAcquire when every cell stayed claimed across the configured number of
// capture sweeps. It signals an undersized Domain rather than a transient
// runtime condition: capacity must be at least the peak number of
// simultaneously live handles. Acquire turns the same condition into a
// panic for callers that treat it as the contract violation it usually is.
var ErrCapacityExhausted = errors.New("hazard: cell capacity exhausted")
