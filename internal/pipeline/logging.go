package pipeline

import (
	"io"

	"github.com/ag-res/reconcile/internal/diagnostics"
	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/monitoring"
	"github.com/ag-res/reconcile/internal/publish"
	"github.com/ag-res/reconcile/internal/reconcile"
	"github.com/ag-res/reconcile/internal/store"
	"github.com/ag-res/reconcile/internal/targets"
)

// SetLogStreams points every stage package's loggers at s.
func SetLogStreams(s monitoring.Streams) {
	for _, set := range []func(ops, diag, trace io.Writer){
		SetLogWriters,
		reconcile.SetLogWriters,
		distribute.SetLogWriters,
		targets.SetLogWriters,
		materialize.SetLogWriters,
		diagnostics.SetLogWriters,
		store.SetLogWriters,
		publish.SetLogWriters,
	} {
		set(s.Ops, s.Diag, s.Trace)
	}
}
