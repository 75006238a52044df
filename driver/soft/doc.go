// Package soft is an in-process reference implementation of driver.Backend.
//
// The software device keeps buffers in host memory and executes dispatches
// synchronously on the submitting goroutine. It cannot run SPIR-V; instead a
// Go function is registered per module with RegisterKernel and looked up by
// the module's fingerprint when a pipeline is created.
//
// Every device also records a journal of resource creation and destruction
// and the commands of each submission, which makes it suitable as a test
// device:
//
//	soft.RegisterKernel(code, func(inv soft.Invocation) {
//	    a, b, out := inv.Float32s(0), inv.Float32s(1), inv.Float32s(2)
//	    for i := range inv.Threads(64, len(out)) {
//	        out[i] = a[i] + b[i]
//	    }
//	})
//
// The package registers itself under driver.BackendSoftware on import.
package soft
