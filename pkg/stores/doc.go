// Package stores provides the persistence layer for Confwell. It includes
// SQLite-based storage with WAL mode, connection pooling, and CRUD operations
// for projects, environments, configs, variants, SDK keys, and the durable
// event queue.
package stores
