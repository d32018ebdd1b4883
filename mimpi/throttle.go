// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps the token bucket's burst. Write splits its input into
// chunks no larger than the limiter's burst, each waiting for its own
// tokens, so a frame larger than the burst is still written in full.
const maxBurstSize = 256 * 1024

// throttledWriter wraps an io.Writer with a token-bucket rate limit. It is
// used on the Send path when MIMPI_THROTTLE_BPS is set, so collective and
// point-to-point behavior under constrained bandwidth can be exercised
// without a real network.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// newThrottledWriter wraps w so that writes through it are limited to
// bytesPerSec, averaged over bursts of up to maxBurstSize. ctx bounds how
// long a write may block waiting for tokens; it is canceled at Finalize so
// a throttled Send never outlives the process shutting down.
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	if burst < 1 {
		burst = 1
	}
	return &throttledWriter{
		ctx:     ctx,
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	burst := t.limiter.Burst()
	for written < len(p) {
		chunk := len(p) - written
		if chunk > burst {
			chunk = burst
		}
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}
		n, err := t.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
