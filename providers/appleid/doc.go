// Package appleid talks to the Sign in with Apple endpoints used when an app
// moves between developer teams: client credential issuance and the two
// user migration info lookups.
package appleid
