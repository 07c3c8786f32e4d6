// Package calibration defines the types shared by the RF bench calibration
// and measurement workflow. It contains:
//
//   - Point: one converged grid point of an input or output calibration
//   - TaskPoint: one corrected stimulus point of a composed measurement task
//   - ResultPoint: one reading produced by a measurement run
//   - Stage / RunKind / RunState: identifiers used by the daemon, client and CLI
//   - the error taxonomy of the calibration engine
//
// These types are shared across engine, daemon and client code to avoid
// duplicate definitions and keep JSON contracts consistent.
package calibration
