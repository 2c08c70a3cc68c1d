// Package dedupe remembers send idempotency keys so a client that retries a
// dropped POST /api/send gets the first attempt's outcome instead of a second
// exchange with the backend.
package dedupe
