// Package rooms owns the authoritative room membership map shared by all
// signaling connections.
//
// The registry is the only shared mutable state in the relay. Every logical
// operation (join+snapshot, leave, lookup, broadcast snapshot) runs under one
// lock; network sends always happen after the lock is released so a slow
// recipient cannot stall membership changes for the whole room.
package rooms
