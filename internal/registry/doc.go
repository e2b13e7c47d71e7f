// Package registry persists the homeservers an operator has registered.
//
// Each Server records the base URL resolved at registration, the bare domain
// the operator typed, the login localpart and the access token. Nothing here
// talks to the network: the registry only stores what the resolver produced.
//
// # Storage
//
// SQLiteStore keeps registrations in a single file (modernc.org/sqlite, WAL
// mode, 0600 permissions) and returns them in insertion order.
//
// # Token Sealing
//
// When opened with a passphrase, tokens are sealed before they are written:
//
//	key   = argon2id(passphrase, salt, t=1, m=64MiB, p=4)
//	value = "sealed:v1:" + base64(nonce || XChaCha20-Poly1305(token, ad=server id))
//
// The salt and a passphrase verifier live in the meta table. Opening the
// store with the wrong passphrase fails with ErrSealed. Opening it with no
// passphrase succeeds, but Get returns ErrSealed for sealed entries and List
// marks them Sealed.
//
// # Export and Import
//
// Export produces a versioned YAML Document; tokens are omitted unless
// requested. Import either replaces the registry (ImportReplace) or updates
// entries by id and appends the rest (ImportMerge), in one transaction.
//
//	version: 1
//	servers:
//	  - id: 7f0c...
//	    domain: example.org
//	    base_url: https://matrix.example.org
//	    username: admin
package registry
