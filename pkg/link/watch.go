// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"time"
)

// Watch polls the enumerator and calls fn once for each controller serial
// that newly appears. A serial that disappears and comes back is reported
// again. Watch works on candidate lists only and never opens a device, so
// it can run alongside a Transport that owns one. It returns when ctx is
// done.
func Watch(ctx context.Context, enum Enumerator, interval time.Duration, fn func(Candidate)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := map[string]bool{}
	for {
		candidates, err := enum.Candidates()
		if err == nil {
			present := make(map[string]bool, len(candidates))
			for _, c := range candidates {
				present[c.Serial] = true
				if !seen[c.Serial] {
					fn(c)
				}
			}
			seen = present
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
