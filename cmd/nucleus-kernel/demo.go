// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/nucleus-foundation/nucleus/kernel"
	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/ipc"
)

// demoWorkers is how many worker tasks the self-test spawns.
const demoWorkers = 3

// spawnDemoWorkload boots a router task that exercises the full
// syscall surface: it creates a work channel and a results channel,
// spawns workers holding derived receive-only capabilities, delegates
// a derived results capability to each worker through a message, and
// finally closes the work channel and revokes the results endpoint.
func spawnDemoWorkload(k *kernel.Kernel, logger *slog.Logger) error {
	router := &demoRouter{logger: logger}
	if _, err := k.Spawn("demo-router", 0, router); err != nil {
		return err
	}
	return nil
}

// demoRouter drives the demo. States: setup, collect, shutdown.
type demoRouter struct {
	logger *slog.Logger

	state int

	workSend    capability.ID
	workRecv    capability.ID
	resultsSend capability.ID
	resultsRecv capability.ID

	collected int
}

func (r *demoRouter) Step(ctx *kernel.TaskContext) kernel.StepStatus {
	if completion, ok := ctx.Completion(); ok {
		return r.collect(ctx, completion)
	}

	switch r.state {
	case 0:
		return r.setup(ctx)
	default:
		return r.receiveResults(ctx)
	}
}

// setup creates both channels, spawns the workers, and hands each one
// work carrying a delegated send capability for the results channel.
func (r *demoRouter) setup(ctx *kernel.TaskContext) kernel.StepStatus {
	var err error
	if _, r.workSend, r.workRecv, err = ctx.ChannelCreate(demoWorkers); err != nil {
		return r.fail(ctx, fmt.Errorf("creating work channel: %w", err))
	}
	if _, r.resultsSend, r.resultsRecv, err = ctx.ChannelCreate(demoWorkers); err != nil {
		return r.fail(ctx, fmt.Errorf("creating results channel: %w", err))
	}

	for i := 0; i < demoWorkers; i++ {
		worker, err := ctx.Spawn(fmt.Sprintf("demo-worker-%d", i), 1, &demoWorker{logger: r.logger})
		if err != nil {
			return r.fail(ctx, fmt.Errorf("spawning worker %d: %w", i, err))
		}

		// Workers compete for work with receive-only capabilities
		// derived from the router's root.
		recvOnly, err := ctx.CapDerive(r.workRecv, capability.RightReceive)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("deriving work capability: %w", err))
		}
		if err := ctx.CapTransfer(recvOnly, worker); err != nil {
			return r.fail(ctx, fmt.Errorf("handing work capability to worker: %w", err))
		}

		// Each work item carries a delegated send-only capability for
		// the results channel.
		sendOnly, err := ctx.CapDerive(r.resultsSend, capability.RightSend)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("deriving results capability: %w", err))
		}
		if _, err := ctx.Send(r.workSend, ipc.Message{
			Kind:    ipc.KindRequest,
			Payload: []byte(fmt.Sprintf("job-%d", i)),
			Caps:    []capability.ID{sendOnly},
		}, false, 0); err != nil {
			return r.fail(ctx, fmt.Errorf("sending work: %w", err))
		}
	}

	r.state = 1
	return kernel.StatusYield
}

// receiveResults batch-receives worker responses until every worker
// has answered, then shuts the demo down.
func (r *demoRouter) receiveResults(ctx *kernel.TaskContext) kernel.StepStatus {
	messages, suspended, err := ctx.ReceiveBatch(r.resultsRecv, demoWorkers, true, 0)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("receiving results: %w", err))
	}
	if suspended {
		return kernel.StatusSuspended
	}
	return r.account(ctx, messages)
}

// collect handles a completion from a suspended batch receive.
func (r *demoRouter) collect(ctx *kernel.TaskContext, completion kernel.Completion) kernel.StepStatus {
	if completion.Err != nil {
		return r.fail(ctx, fmt.Errorf("results receive completed with: %w", completion.Err))
	}
	return r.account(ctx, completion.Messages)
}

func (r *demoRouter) account(ctx *kernel.TaskContext, messages []ipc.Message) kernel.StepStatus {
	for _, message := range messages {
		r.logger.Info("demo result",
			"from", message.Sender, "payload", string(message.Payload))
	}
	r.collected += len(messages)
	if r.collected < demoWorkers {
		return kernel.StatusContinue
	}
	return r.shutdown(ctx)
}

// shutdown closes the work channel, which wakes every idle worker
// with a closed result, then revokes the results endpoint so any
// still-delegated send capability dies with it.
func (r *demoRouter) shutdown(ctx *kernel.TaskContext) kernel.StepStatus {
	if err := ctx.ChannelClose(r.workSend); err != nil {
		return r.fail(ctx, fmt.Errorf("closing work channel: %w", err))
	}
	if err := ctx.CapRevoke(r.resultsSend); err != nil {
		return r.fail(ctx, fmt.Errorf("revoking results capability: %w", err))
	}
	r.logger.Info("demo complete", "results", r.collected)
	ctx.Exit(0)
	return kernel.StatusExited
}

func (r *demoRouter) fail(ctx *kernel.TaskContext, err error) kernel.StepStatus {
	r.logger.Error("demo router failed", "error", err)
	ctx.Exit(1)
	return kernel.StatusExited
}

// demoWorker receives one job, replies on the capability delegated
// inside the job message, and loops until the work channel closes.
type demoWorker struct {
	logger *slog.Logger

	workCap capability.ID
	started bool
}

func (w *demoWorker) Step(ctx *kernel.TaskContext) kernel.StepStatus {
	if completion, ok := ctx.Completion(); ok {
		if completion.Err != nil {
			// Work channel closed: the router is done with us.
			ctx.Exit(0)
			return kernel.StatusExited
		}
		for _, message := range completion.Messages {
			if status := w.handle(ctx, message); status != kernel.StatusContinue {
				return status
			}
		}
		return w.awaitWork(ctx)
	}

	if !w.started {
		w.started = true
		// The router transferred exactly one capability to this task
		// before it first ran: the receive-only work endpoint.
		owned := w.findWorkCap(ctx)
		if owned.IsZero() {
			w.logger.Error("demo worker has no work capability", "task", ctx.Task())
			ctx.Exit(1)
			return kernel.StatusExited
		}
		w.workCap = owned
	}
	return w.awaitWork(ctx)
}

func (w *demoWorker) awaitWork(ctx *kernel.TaskContext) kernel.StepStatus {
	message, suspended, err := ctx.Receive(w.workCap, true, 0)
	if err != nil {
		ctx.Exit(0)
		return kernel.StatusExited
	}
	if suspended {
		return kernel.StatusSuspended
	}
	if status := w.handle(ctx, message); status != kernel.StatusContinue {
		return status
	}
	return w.awaitWork(ctx)
}

// handle replies to one job on its delegated results capability.
func (w *demoWorker) handle(ctx *kernel.TaskContext, message ipc.Message) kernel.StepStatus {
	if len(message.Caps) != 1 {
		w.logger.Error("demo job missing results capability", "task", ctx.Task())
		ctx.Exit(1)
		return kernel.StatusExited
	}
	reply := ipc.Message{
		Kind:    ipc.KindResponse,
		Payload: append([]byte("done:"), message.Payload...),
	}
	if _, err := ctx.Send(message.Caps[0], reply, false, 0); err != nil {
		w.logger.Error("demo reply failed", "task", ctx.Task(), "error", err)
		ctx.Exit(1)
		return kernel.StatusExited
	}
	return kernel.StatusContinue
}

// findWorkCap locates the single capability the router transferred to
// this worker at spawn time.
func (w *demoWorker) findWorkCap(ctx *kernel.TaskContext) capability.ID {
	owned := ctx.OwnedCaps()
	if len(owned) != 1 {
		return capability.ID{}
	}
	return owned[0]
}
