// Package proc is a low-level package that provides methods to inspect
// and manipulate the process we are attached to.
//
// proc implements all core functionality including:
// * the platform capability interface used to access another process
// * process handles and their lifecycle
// * memory region snapshots
// * the hardware breakpoint/watchpoint registry
package proc
