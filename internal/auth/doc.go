// Package auth resolves who a request acts for.
//
// # Tokens
//
// With auth.jwt_secret configured, callers send HS256 JWTs:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, 24*time.Hour)
//
// The "sub" claim is the user id. Expired tokens fail with ErrExpiredToken;
// tokens without a subject fail with ErrMissingClaim.
//
// # Middleware
//
// Middleware attaches an Identity to the request context. Without a verifier
// the gateway runs in trusted mode: the "user" query parameter names the
// caller, falling back to auth.default_user. Handlers that also accept a
// "user" body field call ResolveUser, which never lets a body field override
// a verified token.
package auth
