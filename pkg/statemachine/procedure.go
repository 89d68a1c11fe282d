package statemachine

import "context"

// ProcedureContext is what a running procedure may do to the machine.
type ProcedureContext interface {
	// ProcessStateEvent applies an event to the machine.
	ProcessStateEvent(e Event) error
	// CurrentState returns the machine state.
	//
	// Deprecated: procedures should track their own progress through the events
	// they emit. Peeking at the state reintroduces races with other procedures.
	CurrentState() StateValue
	// ResetStateAfterRestart resets the machine once the application has reloaded.
	ResetStateAfterRestart() error
}

// Procedure is a unit of work run by a SerialExecutorQueue.
type Procedure interface {
	Name() string
	Run(ctx context.Context, pc ProcedureContext) error
}

// ProcedureFunc adapts a function to Procedure.
type ProcedureFunc struct {
	ProcedureName string
	Func          func(ctx context.Context, pc ProcedureContext) error
}

// Name returns the procedure name.
func (p ProcedureFunc) Name() string { return p.ProcedureName }

// Run calls the function.
func (p ProcedureFunc) Run(ctx context.Context, pc ProcedureContext) error {
	return p.Func(ctx, pc)
}

type machineProcedureContext struct {
	machine *Machine
}

func (c machineProcedureContext) ProcessStateEvent(e Event) error {
	return c.machine.ProcessEvent(e)
}

func (c machineProcedureContext) CurrentState() StateValue {
	return c.machine.State()
}

func (c machineProcedureContext) ResetStateAfterRestart() error {
	return c.machine.ResetAndIncrementRestartCount()
}
