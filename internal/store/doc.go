// Package store provides the persistent key/value store and position
// history used by the shade reconciler.
//
// Two keys are in use:
//   - aperturaPersiana: the last known position as a decimal string
//   - presetsPersiana: the preset list as a JSON array of {nombre, valor}
//
// SQLite implementations back both interfaces in production. Memory
// implementations serve tests and deployments without a database.
package store
