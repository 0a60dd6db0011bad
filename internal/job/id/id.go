// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Prefix starts every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuidv4>
// Example: job-9b2f4c1e-6a0d-4c8e-9a57-2f1d0f3b7c44
func Generate() string {
	return Prefix + uuid.NewString()
}
