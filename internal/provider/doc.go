// Package provider defines the tool pack contract and hosts the built-in packs.
//
// # Overview
//
// A pack is a named collection of tools exposed to the agent loop through
// the registry. Each tool carries a descriptor (name, description, JSON
// schema, idempotency flag) and a handler that does the work.
//
// # Built-in Packs
//
// Four packs ship in subpackages:
//
//	storage  - SQL access to a SQLite database (read_query, write_query,
//	           list_tables, describe_table, query_record)
//	files    - sandboxed filesystem access rooted at one allowed
//	           directory (read_file, write_file, list_directory,
//	           create_directory, move_file, search_files, get_file_info,
//	           list_allowed_directories)
//	identity - a user/group/policy/access-key directory (create_user,
//	           attach_policy, create_access_key, and friends)
//	mail     - a local mailbox plus outbound SMTP (send_email,
//	           get_unread_emails, read_email, mark_email_as_read,
//	           trash_email)
//
// # Tool Implementation
//
// Each handler has the signature:
//
//	func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
//
// Handlers receive their arguments as raw JSON and validate them
// themselves. A returned error means the tool ran and failed; the
// gateway converts it into a failure result rather than propagating it.
//
// # Idempotency
//
// Descriptors mark tools that are not safe to retry (write_query,
// send_email, create_access_key) with Idempotent: false. Callers that
// retry on timeout must check this flag first.
package provider
