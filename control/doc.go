// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime introspection for the connection table: Prometheus metrics and
// named debug probes, both exposable over HTTP.
package control
