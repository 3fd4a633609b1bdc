// Package session owns the lifecycle of multi-step flow sessions.
//
// A session binds one conversation thread to one flow (time off, overtime,
// log hours, new user, reimbursement) and carries the step counter and the
// data collected so far. The Manager is the only writer: flows receive
// deep copies and hand their changes back through Update, AdvanceStep,
// Rewind, Cancel and Complete.
//
// Components:
//   - Store: persistence contract, with FileStore (one JSON file per thread)
//     and TableStore (gorm table flow_sessions on SQLite or PostgreSQL)
//   - Manager: manager-wide lock, sliding TTL, additive context merges,
//     identity-scoped cross-thread cleanup
//   - Sweeper: periodic removal of expired, finished and corrupt records
//
// Lifecycle:
//
//	Start -> Update/AdvanceStep ... -> Complete | Cancel -> (grace) -> swept
//
// Example Usage:
//
//	store, err := session.NewFileStore("sessions", log)
//	manager := session.NewManager(store, session.WithTTL(15*time.Minute))
//	s, err := manager.Start(ctx, threadID, types.FlowTimeOff, types.Context{Employee: emp})
//	manager.AdvanceStep(ctx, threadID, &types.Context{TimeOff: &types.TimeOffContext{StartDate: "2025-10-20"}})
package session
