// Package grant decides which hosts hsadmin may contact. Registration asks
// for the server's domain and, when .well-known delegates elsewhere, for the
// delegated homeserver host as well.
package grant
