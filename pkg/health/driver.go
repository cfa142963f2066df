package health

import (
	"context"
	"fmt"
	"time"
)

// GuestPinger is the subset of driver.Driver a DriverChecker exercises.
// Kept as a local interface (rather than importing pkg/driver) so this
// package has no dependency on the guest transport implementations.
type GuestPinger interface {
	Ping(ctx context.Context, timeout time.Duration) bool
}

// DriverChecker adapts a guest driver's Ping into a Checker, so a VM's
// guest connectivity can be tracked with the same consecutive-failure
// and start-period semantics as an HTTP or TCP check.
type DriverChecker struct {
	// Driver is the guest driver to ping.
	Driver GuestPinger

	// VMName identifies the guest in check messages.
	VMName string

	// Timeout bounds each ping (default: 10 seconds).
	Timeout time.Duration
}

// NewDriverChecker creates a DriverChecker for the named VM.
func NewDriverChecker(vmName string, drv GuestPinger) *DriverChecker {
	return &DriverChecker{
		Driver:  drv,
		VMName:  vmName,
		Timeout: 10 * time.Second,
	}
}

// Check pings the guest and reports the result.
func (d *DriverChecker) Check(ctx context.Context) Result {
	start := time.Now()
	ok := d.Driver.Ping(ctx, d.Timeout)

	message := fmt.Sprintf("guest %s reachable", d.VMName)
	if !ok {
		message = fmt.Sprintf("guest %s did not respond to ping within %s", d.VMName, d.Timeout)
	}

	return Result{
		Healthy:   ok,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (d *DriverChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the ping timeout.
func (d *DriverChecker) WithTimeout(timeout time.Duration) *DriverChecker {
	d.Timeout = timeout
	return d
}
