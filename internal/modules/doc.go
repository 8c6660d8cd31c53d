// Package modules resolves import specifiers to module exports.
//
// Four specifier shapes are understood:
//
//	app.util.math        system path: the first bot (in enumeration order)
//	                     whose system tag is "app.util" and that has an
//	                     importable "math" tag
//	🔗b1.math, b1.math   a tag on a bot addressed by id
//	.math, ..core.math   relative to the importer's system path; each dot
//	                     after the first climbs one level
//	https://host/m.expr  fetched through a Fetcher
//
// A bot carrying an onResolveModule listener gets first refusal on every
// import, except imports made while that hook itself runs.
//
// Loaded modules are cached per resolved identity. A change to the backing
// tag invalidates only that entry. Cycles fail fast with a CycleError
// naming the whole import chain.
package modules
