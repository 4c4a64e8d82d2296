// Package crawler defines the record model, query axes, error kinds, and the
// collaborator interfaces shared by the feed crawling subsystems.
package crawler
