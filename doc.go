// Package auth implements authentication and authorization for the blog API:
// principal registration, password login, short lived access tokens and
// rotating refresh tokens, plus role based permissions over blog resources.
//
// Tokens:
//   - Access tokens are HS256 JWTs validated without touching storage.
//   - Refresh tokens are opaque random values. Only their SHA-256 digest is
//     persisted. Each value redeems at most once; a refresh mints a
//     replacement that records the token it replaced.
//
// Persistence:
//   - Every entity embeds Lifecycle. Deletes are soft and every default read
//     hides deleted rows. Uniqueness of usernames and emails only considers
//     live principals.
//   - RepositoryManager groups the stores and runs multi step workflows in a
//     single transaction via RunInTx.
//
// Authorization:
//   - Permissions are named "<resource>.<action>". A principal's effective set
//     is the union over its live roles. Ownership checks let authors act on
//     their own posts while editors and admins override through permissions.
//
// Activity sinks:
//   - ActivitySink receives register, login, refresh, revoke and account
//     events. Sinks run best effort so audit storage never blocks a login.
package auth
