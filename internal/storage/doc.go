// Package storage persists users, routine events and check-ins in a local
// sqlite database. It is the source of truth the reminder engine rebuilds its
// job set from; no job state is ever written here.
package storage
