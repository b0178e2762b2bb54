// Package api implements the HTTP surface of the audit ledger service.
package api
