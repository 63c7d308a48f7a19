// Package core defines the domain model shared by every ARA component.
//
// # Overview
//
// The core package provides:
//   - Domain types (Project, Functionality, User, Problem, Error, etc.)
//   - The typed error taxonomy returned by services (AppError)
//   - Enumerations for profiles, roles, positions and statuses
//   - A Redis-backed cache used for distributed state
//
// Storage interfaces are declared by their consumers (see the service
// package), not here.
package core
