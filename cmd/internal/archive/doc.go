// Package archive is the message archive engine: it decides which message
// events are archived, encodes them into records, parses archive queries into
// a filter and a paging cursor, enforces the result-size policy, and runs one
// serialized actor per served domain against an ArchiveStore.
//
// Stores:
//   - InMemoryStore: dev/test fallback.
//   - PostgresStore: pgx pool, table "messages".
//   - MongoStore: collection "messages", document layout shared with existing archives.
//
// The package holds no global state. The surrounding service registers its
// intake hooks against Service.HandleIncoming / Service.HandleQuery and
// advertises Capability.
package archive
