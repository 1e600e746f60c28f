/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package xerrors holds the typed error taxonomy shared across the
// scheduler's components, so callers can branch on error kind with
// errors.As instead of string matching.
package xerrors

import "fmt"

// AssumeRoleError is returned by the credential broker when STS refuses
// to mint a session for a target account. Not retriable by the broker
// itself; the caller decides whether to retry.
type AssumeRoleError struct {
	AccountID string
	RoleARN   string
	Err       error
}

func (e *AssumeRoleError) Error() string {
	return fmt.Sprintf("assume role %s in account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

func (e *AssumeRoleError) Unwrap() error { return e.Err }

// ThrottledError marks an upstream call that failed due to rate limiting
// or another transient condition and should be retried with backoff.
type ThrottledError struct {
	Op  string
	Err error
}

func (e *ThrottledError) Error() string { return fmt.Sprintf("%s throttled: %v", e.Op, e.Err) }
func (e *ThrottledError) Unwrap() error { return e.Err }

// NotFoundError covers ASG resolution misses. An absent baseline is not
// reported with it: the baseline store returns nil for a missing row.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Resource) }

// AlreadyExistsError marks a create that collides with an existing
// resource. The schedule manager reports its ASG-mapping collisions with
// its own schedule.AlreadyExistsError, not with this type.
type AlreadyExistsError struct {
	Resource string
}

func (e *AlreadyExistsError) Error() string { return fmt.Sprintf("already exists: %s", e.Resource) }

// ValidationError covers bad cron expressions, missing target fields,
// and malformed timestamps.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictIgnoredError marks a conflict that the caller should treat as
// success (e.g. a baseline that already exists).
type ConflictIgnoredError struct {
	Resource string
}

func (e *ConflictIgnoredError) Error() string {
	return fmt.Sprintf("conflict ignored: %s", e.Resource)
}

// FatalError wraps any other worker-side failure. It always results in
// the nodegroup row being marked FAILED and the message redelivered.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }
