// Package remote provides the HTTP fetch backend for key/value segments.
//
// A lookup for resource "users" with query {username: alice} becomes
//
//	GET /api/users?username=alice
//	Accept: application/json
//	X-Request-ID: <uuid>
//
// and the JSON object in the response body is the fetched record. Status
// codes of 400 and above are returned as *StatusError.
package remote
