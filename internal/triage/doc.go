// Package triage provides the business boundary for clinical triage decision
// support. It defines the Pipeline (embed, retrieve, generate, parse), the
// Service (submission, validation, review and export), the Store interface
// for workflow persistence, and the domain models.
package triage
