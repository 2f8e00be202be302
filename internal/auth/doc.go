// Package auth verifies caller identity for the courier API.
//
// Identity lives in an external provider; courier receives HS256-signed JWTs
// whose "sub" claim carries the stable user identifier. The package provides
// the JWTVerifier, an HTTP middleware that attaches a UserContext to the
// request context, and WithUser/FromContext helpers for handlers.
package auth
