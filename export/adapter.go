package export

import (
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/xrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// convert re-runs fn with traced arrays and captures the result as a host
// trace. Native variables the function reads are resolved to their host
// mirrors, one variable-parameter node each, so the trace keeps reading live
// values after the conversion.
//
// When the runtime's state is committed to an accelerator the exporting host
// cannot see, the endpoint is downgraded to the portable serialization and a
// warning is logged; the trace itself is identical, only consumers that demand
// device-native form are affected.
func (a *Archive) convert(name string, fn xrt.Fn, signature *nest.Nest[shapes.Shape]) (*trace.Concrete, string, error) {
	serialization := SerializationNative
	if accelerator := a.runtime.Accelerator(); accelerator != "" && xrt.HostGPUProbe() == 0 {
		serialization = SerializationPortable
		klog.Warningf("endpoint %q: runtime %q is bound to accelerator %q but the host sees no devices, "+
			"downgrading to portable serialization", name, a.runtime.Name(), accelerator)
	}

	builder := func(g *trace.Graph, params []*trace.Node) []*trace.Node {
		scope := xrt.NewTracingScope(a.runtime, g)
		scope.SetResolver(func(v *xrt.Variable) *xrt.Array {
			if v.Runtime() != a.runtime {
				return nil
			}
			return xrt.FromNode(g.VariableParameter(v.HostMirror()))
		})
		arrays := make([]*xrt.Array, len(params))
		for ii, param := range params {
			arrays[ii] = xrt.FromNode(param)
		}
		outputs := fn(scope, nest.Pack(signature, arrays)).Flatten()
		outNodes := make([]*trace.Node, len(outputs))
		for ii, out := range outputs {
			outNodes[ii] = out.Node()
		}
		return outNodes
	}

	concrete, err := freezeBuilder(name, builder, signature)
	if err != nil {
		return nil, "", errors.WithMessagef(err, "converting runtime function for endpoint %q", name)
	}
	return concrete, serialization, nil
}
