package sdk

// Procedure is strategy logic run once per trading day against a Context.
type Procedure interface {
	Name() string
	Run(ctx *Context) error
}

type funcProcedure struct {
	name string
	fn   func(*Context) error
}

func (p funcProcedure) Name() string           { return p.name }
func (p funcProcedure) Run(ctx *Context) error { return p.fn(ctx) }

// NewProcedure adapts a function into a Procedure.
func NewProcedure(name string, fn func(*Context) error) Procedure {
	return funcProcedure{name: name, fn: fn}
}
