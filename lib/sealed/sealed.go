// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// WorkFactor is the scrypt log2(N) used when sealing.
const WorkFactor = 12

// maxWorkFactor bounds what Open accepts from a peer.
const maxWorkFactor = 16

// ErrEmptyPassphrase is returned by Seal and Open for "".
var ErrEmptyPassphrase = errors.New("sealed: empty passphrase")

// Seal encrypts plaintext under passphrase and returns the binary age
// file.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	recipient.SetWorkFactor(WorkFactor)

	var buffer bytes.Buffer
	writer, err := age.Encrypt(&buffer, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return buffer.Bytes(), nil
}

// Open decrypts a body produced by Seal. A wrong passphrase and a
// corrupted body both return an error.
func Open(ciphertext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	identity.SetMaxWorkFactor(maxWorkFactor)

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
