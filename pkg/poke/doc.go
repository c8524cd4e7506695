// Package poke implements the Master's poke router: a leading-edge
// throttled drain that unions poked targets into a pending set, fans
// the drained set out to registered Workers by target intersection,
// and defers targets no Worker currently serves.
package poke
