// Package auth hashes and verifies crypt(3) password strings for the
// account the entrypoint provisions.
package auth
