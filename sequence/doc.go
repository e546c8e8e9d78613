// Package sequence runs named lists of asynchronous steps, one after the other.
//
// Each step receives the results of the previous step and a continuation. The first error
// a step reports ends the run. Besides plain steps a flow can contain iterator steps that
// fan out over a keyed collection, either one entry at a time (Stepping) or all entries at
// once (Together), and hand a map of results to the next step.
//
//		validate := sequence.Define("schema#validate").
//			Step(func(run *sequence.Run, args sequence.Args, next *sequence.Next) {
//				schema := run.Self().(*Schema)
//				next.Done(schema.Fields, args.Get(0))
//			}).
//			Together(func(run *sequence.Run, name, field sequence.Value, extra sequence.Args, next *sequence.Next) {
//				field.(*Field).Validate(extra.Get(0), next.Func())
//			})
//
//		err := validate.Run(ctx, schema, func(err error, results ...sequence.Value) {
//			// err is an *AggregateError when fields failed to validate
//		}, data)
//
// Steps and continuations are posted to a scheduler that runs one task at a time, so the
// state of a run never needs locking and a step is never called in-line with the
// continuation that precedes it.
package sequence
