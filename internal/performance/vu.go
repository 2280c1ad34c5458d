// Package performance runs simulated users against the quiz gateway.
package performance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing its start hook or an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Behavior is what a virtual user does.
//
// OnStart runs exactly once before the first iteration. RunIteration performs
// one unit of work. WaitTime is the pause the VU takes after each iteration.
type Behavior interface {
	OnStart(ctx context.Context)
	RunIteration(ctx context.Context) error
	WaitTime() time.Duration
}

// VirtualUser wraps a Behavior with lifecycle management.
//
// VUs are created by the VUScheduler; a VU is driven by exactly one goroutine.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Behavior executed by this VU
	Behavior Behavior

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	started atomic.Bool

	// Stop signal
	stopCh chan struct{}
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, behavior Behavior) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		Behavior: behavior,
		stopCh:   make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// Started reports whether the start hook has run.
func (vu *VirtualUser) Started() bool {
	return vu.started.Load()
}

// Start runs the behavior's start hook once.
func (vu *VirtualUser) Start(ctx context.Context) error {
	if vu.stopping() {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}
	if !vu.started.CompareAndSwap(false, true) {
		return nil
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.Behavior.OnStart(ctx)
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return nil
}

// RunIteration executes a single iteration of the behavior.
//
// Returns:
//   - nil if the iteration completed
//   - error if the VU is stopping or the behavior reported one
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.stopping() {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}
	if !vu.Started() {
		return fmt.Errorf("VU %d has not started", vu.ID)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))

	err := vu.Behavior.RunIteration(ctx)

	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return err
}

// Wait pauses for the behavior's wait time.
// It returns false if the pause was cut short by ctx or a stop request.
func (vu *VirtualUser) Wait(ctx context.Context) bool {
	d := vu.Behavior.WaitTime()
	if d <= 0 {
		return ctx.Err() == nil && !vu.stopping()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateStopped {
		return
	}
	if prev != VUStateStopping {
		close(vu.stopCh)
	}
}

func (vu *VirtualUser) stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}
