// Package matrixadmin is a stateless client for Matrix homeserver discovery,
// password login, and the Synapse admin API.
//
// # Overview
//
// Two groups of operations share one Client:
//
//   - Resolver: ResolveServer turns a bare domain into a base URL via
//     /.well-known/matrix/client; Authenticate exchanges a password for an
//     access token.
//   - Admin operations: CreateUser, ListUsers, LockUser, WhoAmI,
//     ServerVersion and the compound RemoveUser.
//
// Admin operations take explicit Credentials on every call. The Client holds
// only transport configuration, so it can be shared across servers and
// goroutines.
//
// # Errors
//
// Every network-facing method returns *Error, classified by Kind:
//
//   - KindUnreachable: no response (DNS, TLS, connection refused)
//   - KindInvalidCredentials: login rejected with 401/403
//   - KindCredentialExpired: 401 from an authenticated call
//   - KindProtocol: any other non-success status
//   - KindMalformed: success status with a missing required field
//
// Test for a kind with errors.Is:
//
//	if errors.Is(err, matrixadmin.KindCredentialExpired) {
//	    // ask the operator to re-authenticate
//	}
//
// Requests are sent through a mautrix client with retries and rate-limit
// backoff disabled, so each call reaches the server at most once.
//
// # Pagination
//
// ListUsers returns one page and the server's continuation Cursor. The
// cursor is opaque: pass it back unchanged until it comes back empty.
//
//	cursor := matrixadmin.StartCursor
//	for cursor != "" {
//	    page, err := client.ListUsers(ctx, creds, cursor)
//	    if err != nil {
//	        return err
//	    }
//	    render(page.Users)
//	    cursor = page.NextCursor
//	}
//
// # Removal
//
// RemoveUser lists the user's media, deletes each item (concurrently,
// tolerating individual failures), then deactivates the account with erase.
// If listing fails nothing is changed. If deactivation fails the returned
// RemoveResult still reports how much media was deleted.
package matrixadmin
