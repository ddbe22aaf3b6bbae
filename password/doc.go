// Package password implements Argon2id credential hashing in PHC string
// format. Verification reads the cost parameters out of the stored hash, so
// hashes created under older settings keep verifying after a cost bump;
// NeedsUpgrade tells the caller when to re-hash on a successful login.
package password
