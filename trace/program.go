/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package trace

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/pkg/errors"
)

// Program is the serializable form of a Concrete. It is plain data, marshaled
// as JSON inside artifact manifests. Variable values are not part of the
// program: nodes reference variables by index into Variables, and the caller
// rebinds them on load through a Resolver.
type Program struct {
	Name       string                   `json:"name"`
	InputSpec  *nest.Nest[shapes.Shape] `json:"input_spec"`
	OutputSpec *nest.Nest[shapes.Shape] `json:"output_spec"`
	Nodes      []ProgramNode            `json:"nodes"`
	Outputs    []int                    `json:"outputs"`
	Variables  []ProgramVariable        `json:"variables,omitempty"`
}

// ProgramNode is the serialized form of one Node.
type ProgramNode struct {
	Op     Op           `json:"op"`
	Inputs []int        `json:"inputs,omitempty"`
	Shape  shapes.Shape `json:"shape"`

	// Param is the parameter index, for OpParameter nodes.
	Param *int `json:"param,omitempty"`
	// VarRef indexes into Program.Variables, for OpVariable nodes.
	VarRef *int `json:"var,omitempty"`
	// Constant holds the raw tensor bytes, for OpConstant nodes.
	Constant []byte `json:"constant,omitempty"`
}

// ProgramVariable describes one variable a program reads: the parameter name
// its value is stored under, its shape, and the trainable flag the trace
// recorded for it.
type ProgramVariable struct {
	Name      string       `json:"name"`
	Shape     shapes.Shape `json:"shape"`
	Trainable bool         `json:"trainable"`
}

// Resolver maps a program's variable reference back to a live Variable, usually
// one freshly created from a loaded weights file.
type Resolver func(index int, pv ProgramVariable) (Variable, error)

// Program returns the serializable form of the trace, naming variables by
// their ParameterName.
func (c *Concrete) Program() *Program {
	return c.ProgramWithNames(Variable.ParameterName)
}

// ProgramWithNames returns the serializable form of the trace, naming each
// referenced variable with nameOf. Writers use this to give colliding variable
// names unique storage names.
func (c *Concrete) ProgramWithNames(nameOf func(Variable) string) *Program {
	g := c.graph
	p := &Program{
		Name:       c.name,
		InputSpec:  c.inputSpec,
		OutputSpec: c.outputSpec,
		Nodes:      make([]ProgramNode, len(g.nodes)),
		Outputs:    make([]int, len(g.outputs)),
		Variables:  make([]ProgramVariable, len(g.variableUses)),
	}
	for ii, use := range g.variableUses {
		p.Variables[ii] = ProgramVariable{
			Name:      nameOf(use.Variable),
			Shape:     use.Variable.Shape(),
			Trainable: use.Trainable,
		}
	}
	for ii, node := range g.nodes {
		pn := ProgramNode{Op: node.op, Shape: node.shape}
		if len(node.inputs) > 0 {
			pn.Inputs = make([]int, len(node.inputs))
			for jj, input := range node.inputs {
				pn.Inputs[jj] = input.id
			}
		}
		switch node.op {
		case OpParameter:
			index := node.paramIndex
			pn.Param = &index
		case OpVariable:
			index := node.varIndex
			pn.VarRef = &index
		case OpConstant:
			pn.Constant = node.constant.Bytes()
		}
		p.Nodes[ii] = pn
	}
	for ii, out := range g.outputs {
		p.Outputs[ii] = out.id
	}
	return p
}

// NewConcreteFromProgram rebuilds an executable Concrete from its serialized
// form, resolving each variable reference through resolve. Op shapes are
// re-inferred while rebuilding, so a corrupted program is rejected rather than
// executed.
func NewConcreteFromProgram(p *Program, resolve Resolver) (*Concrete, error) {
	if p == nil {
		return nil, errors.New("nil program")
	}
	if p.InputSpec == nil || p.InputSpec.NumLeaves() == 0 {
		return nil, errors.Errorf("program %q has no input signature", p.Name)
	}
	if len(p.Outputs) == 0 {
		return nil, errors.Errorf("program %q has no outputs", p.Name)
	}

	variables := make([]Variable, len(p.Variables))
	for ii, pv := range p.Variables {
		v, err := resolve(ii, pv)
		if err != nil {
			return nil, errors.WithMessagef(err, "program %q: resolving variable %q", p.Name, pv.Name)
		}
		if !pv.Shape.Equal(v.Shape()) {
			return nil, errors.Errorf("program %q: variable %q resolved to shape %s, program expects %s",
				p.Name, pv.Name, v.Shape(), pv.Shape)
		}
		variables[ii] = v
	}

	g := newGraph(p.Name)
	var buildErr error
	// Shape inference panics on corrupt programs; convert to an error.
	caught := exceptions.TryCatch[error](func() {
		for ii, pn := range p.Nodes {
			inputs := make([]*Node, len(pn.Inputs))
			for jj, id := range pn.Inputs {
				if id < 0 || id >= ii {
					buildErr = errors.Errorf("program %q: node #%d references invalid input #%d", p.Name, ii, id)
					return
				}
				inputs[jj] = g.nodes[id]
			}
			var node *Node
			switch pn.Op {
			case OpParameter:
				if pn.Param == nil {
					buildErr = errors.Errorf("program %q: parameter node #%d missing its index", p.Name, ii)
					return
				}
				node = g.Parameter(pn.Shape)
				if node.paramIndex != *pn.Param {
					buildErr = errors.Errorf("program %q: parameter node #%d out of order", p.Name, ii)
					return
				}
			case OpVariable:
				if pn.VarRef == nil || *pn.VarRef < 0 || *pn.VarRef >= len(variables) {
					buildErr = errors.Errorf("program %q: variable node #%d has an invalid reference", p.Name, ii)
					return
				}
				node = g.VariableParameter(variables[*pn.VarRef])
			case OpConstant:
				value, err := tensors.FromBytes(pn.Shape, pn.Constant)
				if err != nil {
					buildErr = errors.WithMessagef(err, "program %q: constant node #%d", p.Name, ii)
					return
				}
				node = g.Constant(value)
			case OpAdd, OpSub, OpMul, OpDiv, OpMatMul:
				if len(inputs) != 2 {
					buildErr = errors.Errorf("program %q: %s node #%d needs 2 inputs, got %d", p.Name, pn.Op, ii, len(inputs))
					return
				}
				switch pn.Op {
				case OpAdd:
					node = g.Add(inputs[0], inputs[1])
				case OpSub:
					node = g.Sub(inputs[0], inputs[1])
				case OpMul:
					node = g.Mul(inputs[0], inputs[1])
				case OpDiv:
					node = g.Div(inputs[0], inputs[1])
				case OpMatMul:
					node = g.MatMul(inputs[0], inputs[1])
				}
			case OpRelu, OpSigmoid, OpTanh, OpExp:
				if len(inputs) != 1 {
					buildErr = errors.Errorf("program %q: %s node #%d needs 1 input, got %d", p.Name, pn.Op, ii, len(inputs))
					return
				}
				switch pn.Op {
				case OpRelu:
					node = g.Relu(inputs[0])
				case OpSigmoid:
					node = g.Sigmoid(inputs[0])
				case OpTanh:
					node = g.Tanh(inputs[0])
				case OpExp:
					node = g.Exp(inputs[0])
				}
			default:
				buildErr = errors.Errorf("program %q: node #%d has unknown op %q", p.Name, ii, pn.Op)
				return
			}
			if node.id != ii {
				buildErr = errors.Errorf("program %q: node #%d duplicates an earlier variable reference", p.Name, ii)
				return
			}
			if !node.shape.Equal(pn.Shape) {
				buildErr = errors.Errorf("program %q: node #%d inferred shape %s, program recorded %s",
					p.Name, ii, node.shape, pn.Shape)
				return
			}
		}
	})
	if caught != nil {
		return nil, errors.WithMessagef(caught, "program %q failed to rebuild", p.Name)
	}
	if buildErr != nil {
		return nil, buildErr
	}

	g.outputs = make([]*Node, len(p.Outputs))
	for ii, id := range p.Outputs {
		if id < 0 || id >= len(g.nodes) {
			return nil, errors.Errorf("program %q: output #%d references invalid node #%d", p.Name, ii, id)
		}
		g.outputs[ii] = g.nodes[id]
	}
	return &Concrete{
		name:       p.Name,
		graph:      g,
		inputSpec:  p.InputSpec,
		outputSpec: p.OutputSpec,
	}, nil
}
