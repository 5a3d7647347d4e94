// Package mongostore reads and updates user credentials kept in a MongoDB
// users collection, where the provider fields live under "credential".
package mongostore
