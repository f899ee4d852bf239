// SPDX-License-Identifier: Apache-2.0

package synerr

import (
	"errors"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Lock contention (55P03) is retried by the db package's retry wrapper, not
// here; classify.go only has to recognise the error classes that the bulk
// writer itself must recover from.
const (
	codeTransactionAborted pq.ErrorCode = "25P02"
)

var notNullColumnRe = regexp.MustCompile(`null value in column "([^"]+)"`)

// ClassifyWriteError inspects a raw error returned by the lake driver and
// maps it onto the taxonomy in §4.3.2. Substring matching mirrors the
// source system's own message-based dispatch, since lib/pq does not always
// populate a structured *pq.Error for every failure mode we care about.
func ClassifyWriteError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeTransactionAborted {
		return &TransactionAbortedError{Err: err}
	}

	switch {
	case strings.Contains(lower, "violates not-null constraint"):
		return &SchemaMismatchError{Columns: notNullColumns(msg), Err: err}
	case strings.Contains(lower, "current transaction is aborted"),
		strings.Contains(lower, "previously aborted"):
		return &TransactionAbortedError{Err: err}
	case strings.Contains(lower, "invalid input syntax"),
		strings.Contains(lower, "not a valid binary digit"):
		return &BadEncodingError{Err: err}
	default:
		return err
	}
}

// notNullColumns extracts offending column names from a
// "null value in column \"x\" violates not-null constraint" message. PG
// reports one column per error, but the writer may accumulate several
// across a batch retry, hence the slice return type.
func notNullColumns(msg string) []string {
	m := notNullColumnRe.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	return []string{m[1]}
}
