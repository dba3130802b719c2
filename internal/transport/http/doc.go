// Package http implements the HTTP handlers for the license service. It is
// a thin layer between chi routing and the service layer: handlers parse and
// validate payloads, call one service method, and format the reply.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Store
//	                                             ↓
//	HTTP Response ← Handler ← Service Result ←──┘
//
// # Surfaces
//
// The public surface (activate, transfer) replies 200 with a closed status
// envelope for every terminal outcome; only transient failures become RFC
// 7807 problems. The privileged surfaces (admin revoke, internal issuance)
// sit behind shared-secret middleware and use problem details for all
// failures, since an authenticated caller may see precise errors.
//
// Plaintext license keys appear in logs only in masked form.
package http
