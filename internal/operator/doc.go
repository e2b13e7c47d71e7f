// Package operator runs hsadmin's workflows: registering servers (grant,
// discover, log in, store) and administering their users with a guard
// against locking or removing the caller's own account.
package operator
