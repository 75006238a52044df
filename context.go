// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gcl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gogpu/gcl/driver"
	"github.com/gogpu/gcl/internal/memory"
)

// waitSlice is how long a single fence wait blocks before the deadline and
// cancellation of the caller's context are checked again.
const waitSlice = 100 * time.Millisecond

// Allocator is the context's buffer allocator.
type Allocator = memory.Allocator

// MemoryStats contains allocator usage statistics.
type MemoryStats = memory.Stats

// Context owns a device, its compute queue, one reusable command channel
// and the allocator every buffer of the context comes from.
//
// A Context runs one submission at a time. Dispatches from several
// goroutines are serialized on the execution token; each blocks until its
// own submission completes.
type Context struct {
	cfg      Config
	backend  string
	instance driver.Instance
	adapter  driver.AdapterInfo
	device   driver.Device
	queue    driver.Queue
	borrowed bool

	// Command channel. Guarded by token.
	token      *semaphore.Weighted
	encoder    driver.CommandEncoder
	fence      driver.Fence
	fenceValue uint64
	inflight   []driver.CommandBuffer

	allocator *memory.Allocator

	mu        sync.RWMutex
	destroyed bool
	kernels   map[*Kernel]struct{}
}

// New opens the configured backend and creates a Context on the first
// compute-capable adapter.
//
// Example:
//
//	ctx, err := gcl.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Destroy()
func New(opts ...Option) (*Context, error) {
	const op = "new context"

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	backend := cfg.Driver
	if backend == nil {
		b, err := driver.Lookup(cfg.Backend)
		if err != nil {
			return nil, newError(op, ErrDevice, err)
		}
		backend = b
	}

	instance, err := backend.CreateInstance(driver.InstanceDescriptor{
		Label:      cfg.Label,
		Validation: cfg.Validation,
	})
	if err != nil {
		return nil, newError(op, ErrDevice, fmt.Errorf("create instance: %w", err))
	}

	adapter, err := selectAdapter(instance, cfg.AdapterFilter)
	if err != nil {
		instance.Destroy()
		return nil, newError(op, ErrDeviceUnavailable, err)
	}
	info := adapter.Info()

	device, err := adapter.Open()
	if err != nil {
		instance.Destroy()
		return nil, newError(op, ErrDevice, fmt.Errorf("open %s: %w", info.Name, err))
	}

	c, err := newContext(cfg, backend.Name(), info, device, false)
	if err != nil {
		device.Destroy()
		instance.Destroy()
		return nil, newError(op, ErrDevice, err)
	}
	c.instance = instance

	Logger().Info("gcl: context created",
		"backend", c.backend,
		"adapter", info.Name,
		"kind", info.Kind(),
		"queue_family", info.QueueFamily,
		"validation", cfg.Validation)
	return c, nil
}

// selectAdapter returns the first adapter with a compute queue that passes
// filter.
func selectAdapter(instance driver.Instance, filter func(driver.AdapterInfo) bool) (driver.Adapter, error) {
	adapters := instance.Adapters()
	for _, a := range adapters {
		info := a.Info()
		if !info.Compute {
			Logger().Debug("gcl: skipping adapter without compute", "adapter", info.Name)
			continue
		}
		if filter != nil && !filter(info) {
			Logger().Debug("gcl: adapter rejected by filter", "adapter", info.Name)
			continue
		}
		return a, nil
	}
	return nil, fmt.Errorf("%d adapters, none usable for compute", len(adapters))
}

// newContext builds the command channel and allocator on an open device.
// On error nothing created here is left behind; the device is the
// caller's to release.
func newContext(cfg Config, backend string, info driver.AdapterInfo, device driver.Device, borrowed bool) (*Context, error) {
	encoder, err := device.CreateCommandEncoder(cfg.Label + "_encoder")
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	fence, err := device.CreateFence()
	if err != nil {
		device.DestroyCommandEncoder(encoder)
		return nil, fmt.Errorf("create fence: %w", err)
	}

	return &Context{
		cfg:       cfg,
		backend:   backend,
		adapter:   info,
		device:    device,
		queue:     device.Queue(),
		borrowed:  borrowed,
		token:     semaphore.NewWeighted(1),
		encoder:   encoder,
		fence:     fence,
		allocator: memory.New(device, memory.Config{BudgetMB: cfg.MemoryBudgetMB}),
		kernels:   make(map[*Kernel]struct{}),
	}, nil
}

// Config returns the configuration the context was created with.
func (c *Context) Config() Config { return c.cfg }

// Backend returns the name of the driver backend in use.
func (c *Context) Backend() string { return c.backend }

// Adapter returns information about the selected adapter.
func (c *Context) Adapter() driver.AdapterInfo { return c.adapter }

// Device returns the underlying driver device.
func (c *Context) Device() driver.Device { return c.device }

// Queue returns the compute queue.
func (c *Context) Queue() driver.Queue { return c.queue }

// CommandEncoder returns the reusable command encoder.
func (c *Context) CommandEncoder() driver.CommandEncoder { return c.encoder }

// Fence returns the fence that tracks submission completion.
func (c *Context) Fence() driver.Fence { return c.fence }

// Allocator returns the buffer allocator.
func (c *Context) Allocator() *Allocator { return c.allocator }

// MemoryStats returns the allocator's usage statistics.
func (c *Context) MemoryStats() MemoryStats { return c.allocator.Stats() }

// Borrowed reports whether the device is owned by someone else.
func (c *Context) Borrowed() bool { return c.borrowed }

func (c *Context) label(name string) string {
	return c.cfg.Label + "_" + name
}

// alive returns ErrContextDestroyed once Destroy has started.
func (c *Context) alive(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return newError(op, ErrContextDestroyed, nil)
	}
	return nil
}

func (c *Context) track(k *Kernel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrContextDestroyed
	}
	c.kernels[k] = struct{}{}
	return nil
}

// exclusive runs fn holding the execution token, after checking the
// context is alive.
func (c *Context) exclusive(op string, fn func() error) error {
	if err := c.token.Acquire(context.Background(), 1); err != nil {
		return newError(op, ErrDispatch, err)
	}
	defer c.token.Release(1)
	if err := c.alive(op); err != nil {
		return err
	}
	return fn()
}

func (c *Context) untrack(k *Kernel) {
	c.mu.Lock()
	delete(c.kernels, k)
	c.mu.Unlock()
}

// execute records one submission with record, submits it and waits for the
// fence. The token is held for the whole call. If record fails the
// recording is discarded and its error returned unchanged.
func (c *Context) execute(ctx context.Context, op string, record func(driver.CommandEncoder) error) error {
	if err := c.token.Acquire(ctx, 1); err != nil {
		return doneError(op, err, "waiting for execution token")
	}
	defer c.token.Release(1)

	// Destroy holds the token while tearing down, so this check is final.
	if err := c.alive(op); err != nil {
		return err
	}

	if err := c.encoder.BeginEncoding(op); err != nil {
		return newError(op, ErrDispatch, fmt.Errorf("begin encoding: %w", err))
	}
	if err := record(c.encoder); err != nil {
		c.encoder.DiscardEncoding()
		return err
	}
	cmd, err := c.encoder.EndEncoding()
	if err != nil {
		c.encoder.DiscardEncoding()
		return newError(op, ErrDispatch, fmt.Errorf("end encoding: %w", err))
	}

	c.fenceValue++
	if err := c.queue.Submit(cmd, c.fence, c.fenceValue); err != nil {
		c.device.FreeCommandBuffer(cmd)
		return newError(op, ErrDispatch, fmt.Errorf("submit: %w", err))
	}

	if err := c.wait(ctx, op, c.fenceValue); err != nil {
		// The device may still be executing cmd; keep it until a later
		// wait proves the queue has moved past it.
		c.inflight = append(c.inflight, cmd)
		return err
	}
	c.device.FreeCommandBuffer(cmd)
	c.releaseInflight()
	return nil
}

// wait blocks until the fence reaches value, ctx is done, or the device
// reports an error. Waits are issued in slices of waitSlice.
func (c *Context) wait(ctx context.Context, op string, value uint64) error {
	start := time.Now()
	for {
		slice := waitSlice
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return doneError(op, context.DeadlineExceeded, fmt.Sprintf("fence %d not signaled after %v", value, time.Since(start)))
			}
			slice = min(slice, remaining)
		}

		done, err := c.device.Wait(c.fence, value, slice)
		if err != nil {
			return newError(op, ErrDispatch, fmt.Errorf("wait fence %d: %w", value, err))
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return doneError(op, err, fmt.Sprintf("fence %d not signaled after %v", value, time.Since(start)))
		}
	}
}

// doneError maps the error of a finished caller context: a missed deadline
// is ErrTimeout, a cancellation is ErrDispatch. Both wrap the context error.
func doneError(op string, err error, what string) error {
	kind := ErrDispatch
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return newError(op, kind, fmt.Errorf("%s: %w", what, err))
}

// drainInflight waits for the device to go idle when an earlier submission
// timed out, so nothing still executing references what the caller is about
// to release. Must hold the token.
func (c *Context) drainInflight(op string) {
	if len(c.inflight) == 0 {
		return
	}
	Logger().Debug("gcl: waiting for timed-out submissions", "op", op, "count", len(c.inflight))
	if err := c.device.WaitIdle(); err != nil {
		Logger().Warn("gcl: wait idle failed", "op", op, "err", err)
	}
	c.releaseInflight()
}

// releaseInflight frees command buffers of earlier timed-out submissions.
// Only called once a later fence value has been reached.
func (c *Context) releaseInflight() {
	for _, cmd := range c.inflight {
		c.device.FreeCommandBuffer(cmd)
	}
	c.inflight = nil
}

// Destroy waits for the device to go idle and releases everything the
// context created: kernels still alive, the command channel, all buffers,
// then the device and instance. A borrowed device is left open.
//
// Buffers and kernels of a destroyed context return ErrContextDestroyed.
// Destroy is idempotent.
func (c *Context) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	kernels := c.kernels
	c.kernels = nil
	c.mu.Unlock()

	// Wait for any dispatch in flight. A dispatch that gets the token
	// later sees destroyed and returns.
	_ = c.token.Acquire(context.Background(), 1)
	defer c.token.Release(1)

	if err := c.device.WaitIdle(); err != nil {
		Logger().Warn("gcl: wait idle failed during destroy", "err", err)
	}
	c.releaseInflight()

	for k := range kernels {
		Logger().Warn("gcl: destroying kernel left alive", "kernel", k.label)
		k.release()
	}

	c.device.DestroyCommandEncoder(c.encoder)
	c.device.DestroyFence(c.fence)

	if n := c.allocator.Close(); n > 0 {
		Logger().Debug("gcl: released buffers left alive", "count", n)
	}

	if !c.borrowed {
		c.device.Destroy()
	}
	if c.instance != nil {
		c.instance.Destroy()
	}
	Logger().Info("gcl: context destroyed", "adapter", c.adapter.Name)
}
