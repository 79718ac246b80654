// Package app composes the ledger, payroll, chat and realtime services into a
// single Application with a managed lifecycle.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── authz/              # Role to permission policy
//	├── domain/             # Domain models (ledger, payroll, chat)
//	├── httpapi/            # HTTP handlers, routing, validation, audit trail
//	├── metrics/            # Prometheus collectors
//	├── money/              # Decimal <-> minor unit codec
//	├── realtime/           # Connection registry, WebSocket conns, event distributor
//	├── runtime/            # Config-driven construction and HTTP server
//	├── services/           # ledger engine, payroll processor, chat
//	├── storage/            # Store interfaces plus memory, postgres, redis
//	└── system/             # Service manager
//
// # Event Flow
//
// Committed ledger transfers and payroll credits are handed to the
// Distributor, which delivers each event in commit order to every connection
// the Registry holds for the affected identities. When a Relay is configured
// events are also published to Redis so other instances can deliver them to
// their own connections.
//
// # Dependency Direction
//
//	cmd/appserver/
//	      │
//	      ▼
//	internal/app/runtime
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services
//	      ├──► internal/app/realtime
//	      └──► internal/app/storage
package app
