// Package reduce renders incremental GROUP BY reductions over Z-sets of
// rows. A reduction is planned outside this package: the plan names the
// strategy (distinct, accumulable, hierarchical, basic, or a collation of
// several) and the package maintains the per-group aggregates under
// arbitrary insertions and retractions, emitting output changes and a
// maintained set of data errors.
package reduce
