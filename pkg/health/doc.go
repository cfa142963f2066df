/*
Package health provides generic health-check primitives: HTTP, TCP, and
exec-style checkers plus a Status tracker with consecutive-failure and
start-period semantics.

DriverChecker adapts a guest driver's Ping into the same Checker
interface, so a VM's guest connectivity is tracked with the identical
retry logic an HTTP or TCP check would use. pkg/supervisor runs one on
a fixed interval for its VM and reports the result into pkg/metrics'
component registry under "guest-<vm name>", where it counts toward
GetHealth the same as the coordination, artifact store, and gRPC
components. GetReadiness looks only at those three and ignores guest
components.

	checker := health.NewDriverChecker(vmName, driver)
	cfg := health.DefaultConfig()
	status := health.NewStatus()
	status.Update(checker.Check(ctx), cfg)

HTTPChecker and TCPChecker remain available for checking the
coordination service's own /health endpoint or a minimega API socket
from an external monitor; nothing in this subsystem currently drives
them, they are exercised only by their own tests.
*/
package health
