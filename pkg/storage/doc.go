// Package storage provides the GORM-backed adapter Workers poll against:
// transactional claim of waiting/manual rows under a row lock, and the
// state-column updates that follow a claimed row through accepted,
// running, and done.
package storage
