// Package encryption transcodes single files to and from their encrypted form.
//
// Content is split into fixed-size chunks. With the Onboard scheme each chunk is
// padded and sent through the device's keyed transform; the Extended and Deterministic
// schemes encrypt locally under a key derived from device public material.
// A header carrying the plaintext digest precedes the ciphertext, and decrypted output
// is only committed once that digest matches.
//
// Outputs are written to a temporary file, synced and renamed into place before the
// input is removed, so an interrupted run leaves either the old file, the new file, or
// both, and re-running completes the commit.
package encryption
