// Package job holds the job and state records as stored in hashes, the
// field names they use, and the codec for invocation data.
package job
