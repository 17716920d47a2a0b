// Package membership owns the time-limited membership records.
//
// The Store maps a user id to the role granted and its expiry instant. It
// is backed by one JSON document that is rewritten atomically after every
// mutation:
//
//	{
//	  "123456789": { "roleId": "987654321", "expireDate": "2025-06-01T12:00:00.000Z" }
//	}
//
// A user has at most one record. Expired records are drained with
// SweepExpired, which removes each record before handing it out.
package membership
