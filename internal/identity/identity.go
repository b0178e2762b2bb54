// Package identity derives the acting officer for audited requests.
//
// It provides:
//   - TokenIssuer  : issues and verifies HS256 JWT actor tokens
//   - RequireActor : Gin middleware that resolves the ledger.Actor of a request
//   - OptionalActor: like RequireActor, but anonymous requests pass through
//   - ActorFromCtx : retrieves the actor injected by RequireActor
package identity
