// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts sync envelope bodies with a room passphrase
// using filippo.io/age scrypt recipients.
//
// Everyone in a sync room shares the passphrase through the backend
// configuration's "secret" field; relays and brokers between peers
// only ever see ciphertext. The scrypt work factor is lowered from
// age's interactive default because every message is sealed
// separately.
package sealed
