// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the connection table: the bounded request
// processor pool (Executor), the selector-loop inbox (Mailbox) and the
// single-assignment completion cell (Future).
package concurrency
