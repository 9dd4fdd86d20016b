// Package integration provides end-to-end tests for the inventory mirror.
// They start the full application against a scripted upstream and check the
// mirror contents and run history through the HTTP API and the database.
package integration
