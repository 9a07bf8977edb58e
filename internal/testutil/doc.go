// Package testutil contains in-process fakes used across tests: a scripted
// agent transport and a recording sink. They are not intended for
// production usage.
package testutil
