// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds bounded HTTP body readers and connection error
// classification shared by the sync adapters, the Matrix client and
// the resource service.
//
// Every JSON API body (Matrix, PubNub) is read through [ReadResponse]
// or [DecodeResponse] so a misbehaving server cannot make the process
// buffer an unbounded response. Resource downloads use [ReadLimited]
// with their own configured ceiling.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads.
const MaxResponseSize int64 = 32 << 20

// ErrTooLarge is returned by ReadLimited when the body exceeds the
// limit.
var ErrTooLarge = errors.New("netutil: body exceeds size limit")

// ReadResponse reads a JSON API body of at most MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API body and unmarshals it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns as much of an error response body as can be read,
// for use in error messages. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}

// ReadLimited reads body entirely, failing with ErrTooLarge instead of
// truncating when it holds more than limit bytes.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}
