// Package arrow keeps a bounded journal of admission decisions and exports it
// as Apache Arrow record batches in IPC stream format.
package arrow
